package store

import (
	"fmt"

	"github.com/kilupskalvis/wikimirror/internal/models"
)

const cursorKeyPrefix = "cursor:"

// SaveCursor persists the resume cursor for a content type.
func (s *Store) SaveCursor(c *models.SyncCursor) error {
	token, err := c.Encode()
	if err != nil {
		return err
	}
	return s.SetValue(cursorKeyPrefix+c.ContentType, token)
}

// LoadCursor returns the saved cursor for a content type, or (nil, nil).
func (s *Store) LoadCursor(contentType string) (*models.SyncCursor, error) {
	token, err := s.GetValue(cursorKeyPrefix + contentType)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}
	c, err := models.DecodeCursor(token)
	if err != nil {
		return nil, fmt.Errorf("load cursor %s: %w", contentType, err)
	}
	return c, nil
}

// ClearCursor removes the saved cursor for a content type.
func (s *Store) ClearCursor(contentType string) error {
	return s.DeleteValue(cursorKeyPrefix + contentType)
}
