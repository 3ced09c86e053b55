package models

// ImportedPrefix marks actors whose name could not be claimed as a real
// local account.
const ImportedPrefix = "imported>"

// Actor is the canonical local identity a revision or log entry is
// attributed to.
type Actor struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	RemoteUserID int64  `json:"remote_user_id,omitempty"`
	IsIP         bool   `json:"is_ip,omitempty"`
	Migrated     bool   `json:"migrated,omitempty"`
	MigratedFrom string `json:"migrated_from,omitempty"`
}
