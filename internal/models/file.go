package models

import "time"

// FileVersion is one version of an uploaded file as the remote reports it.
// A zero Timestamp and empty ArchiveName denote the current version.
type FileVersion struct {
	Name        string         `json:"name"`
	Timestamp   time.Time      `json:"timestamp,omitzero"`
	Size        int64          `json:"size"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	BitDepth    int            `json:"bitdepth"`
	MIME        string         `json:"mime"`
	SHA1        string         `json:"sha1"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Visibility  Visibility     `json:"visibility"`
	ArchiveName string         `json:"archivename,omitempty"`
	URL         string         `json:"url"`
	UserID      int64          `json:"userid"`
	UserName    string         `json:"user"`
	Comment     string         `json:"comment"`
}

// IsCurrent reports whether this is the current version of the file.
func (f *FileVersion) IsCurrent() bool {
	return f.ArchiveName == ""
}

// FileRecord is the local record of an imported file version.
type FileRecord struct {
	Name        string     `json:"name"`
	Timestamp   time.Time  `json:"timestamp,omitzero"`
	ArchiveName string     `json:"archive_name,omitempty"`
	Path        string     `json:"path"`
	Size        int64      `json:"size"`
	SHA1        string     `json:"sha1"`
	MIME        string     `json:"mime"`
	ActorID     int64      `json:"actor_id"`
	Visibility  Visibility `json:"visibility"`
	ImportedAt  time.Time  `json:"imported_at"`
}

// FileKey returns the bbolt key for a file version: "name|archivename".
func FileKey(name, archiveName string) string {
	return name + "|" + archiveName
}
