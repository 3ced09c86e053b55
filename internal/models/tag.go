package models

import "time"

// Tag association targets.
const (
	TagTargetRevision = "r"
	TagTargetLog      = "l"
)

// ChangeTag is a named tag that can be applied to revisions and log entries.
type ChangeTag struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Count       int64  `json:"count"`
	Defined     bool   `json:"defined,omitempty"`
	Description string `json:"description,omitempty"`
}

// LogEntry is a minimal local log row that tags can be attached to.
type LogEntry struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Action    string    `json:"action"`
	PageID    int64     `json:"page_id,omitempty"`
	ActorID   int64     `json:"actor_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
