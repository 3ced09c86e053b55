package models

import "time"

// FindingKind classifies an integrity finding.
type FindingKind string

const (
	FindingMissing    FindingKind = "missing"
	FindingMismatch   FindingKind = "mismatch"
	FindingRepaired   FindingKind = "repaired"
	FindingUnfixable  FindingKind = "unfixable_gap"
	FindingConflict   FindingKind = "conflict"
	FindingCorruptXfr FindingKind = "corrupt_transfer"
)

// Finding is one reported defect. Findings are never errors.
type Finding struct {
	Kind      FindingKind `json:"kind"`
	RevID     int64       `json:"rev_id,omitempty"`
	ParentID  int64       `json:"parent_id,omitempty"`
	Timestamp time.Time   `json:"timestamp,omitzero"`
	Detail    string      `json:"detail,omitempty"`
}
