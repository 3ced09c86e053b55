package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Paging directions.
const (
	DirectionNewer = "newer"
	DirectionOlder = "older"
)

// SyncCursor captures where a paginated run stands so an operator can resume
// it. Continue holds the opaque continuation parameters of the last page.
type SyncCursor struct {
	ContentType string            `json:"content_type"`
	Continue    map[string]string `json:"continue,omitempty"`
	Direction   string            `json:"direction,omitempty"`
	Namespaces  []int             `json:"namespaces,omitempty"`
	Start       time.Time         `json:"start,omitzero"`
	End         time.Time         `json:"end,omitzero"`
	UpdatedAt   time.Time         `json:"updated_at,omitzero"`
}

// Clone returns a deep copy.
func (c *SyncCursor) Clone() *SyncCursor {
	if c == nil {
		return nil
	}
	out := *c
	if c.Continue != nil {
		out.Continue = make(map[string]string, len(c.Continue))
		for k, v := range c.Continue {
			out.Continue[k] = v
		}
	}
	if c.Namespaces != nil {
		out.Namespaces = append([]int(nil), c.Namespaces...)
	}
	return &out
}

// Encode returns the cursor as a single pasteable token.
func (c *SyncCursor) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeCursor parses a token produced by Encode. Plain JSON is accepted too.
func DecodeCursor(token string) (*SyncCursor, error) {
	data := []byte(token)
	if len(token) > 0 && token[0] != '{' {
		decoded, err := base64.RawURLEncoding.DecodeString(token)
		if err != nil {
			return nil, fmt.Errorf("decode cursor: %w", err)
		}
		data = decoded
	}
	var c SyncCursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cursor: %w", err)
	}
	return &c, nil
}
