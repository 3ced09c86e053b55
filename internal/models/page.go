package models

import (
	"strconv"
	"time"
)

// Page is the local page record. Title is unique within a namespace.
type Page struct {
	ID           int64         `json:"id"`
	Namespace    int           `json:"ns"`
	Title        string        `json:"title"`
	LatestRevID  int64         `json:"latest_rev_id"`
	Restrictions []Restriction `json:"restrictions,omitempty"`
}

// Restriction is a page-level protection.
type Restriction struct {
	Type    string    `json:"type"`
	Level   string    `json:"level"`
	Expiry  time.Time `json:"expiry,omitzero"`
	Cascade bool      `json:"cascade,omitempty"`
}

// PageTitleKey returns the bbolt key for the title index: "ns:title".
func PageTitleKey(namespace int, title string) string {
	return strconv.Itoa(namespace) + ":" + title
}
