package store

import (
	"encoding/json"
	"fmt"

	"github.com/kilupskalvis/wikimirror/internal/models"
	bolt "go.etcd.io/bbolt"
)

func assocKey(tagID int64, target string, targetID int64) []byte {
	return fmt.Appendf(nil, "%016x|%s|%016x", tagID, target, targetID)
}

// AcquireTagID returns the local id of a tag, creating the tag if needed.
func (s *Store) AcquireTagID(name string) (int64, error) {
	var id int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		tag, err := acquireTagTx(tx, name)
		if err != nil {
			return err
		}
		id = tag.ID
		return nil
	})
	return id, err
}

func acquireTagTx(tx *bolt.Tx, name string) (*models.ChangeTag, error) {
	tags := tx.Bucket(bucketTags)
	var tag models.ChangeTag
	found, err := getJSON(tags, []byte(name), &tag)
	if err != nil {
		return nil, err
	}
	if found {
		return &tag, nil
	}

	seq, err := tags.NextSequence()
	if err != nil {
		return nil, fmt.Errorf("allocate tag id: %w", err)
	}
	tag = models.ChangeTag{ID: int64(seq), Name: name}
	if err := putJSON(tags, []byte(name), &tag); err != nil {
		return nil, err
	}
	if err := tx.Bucket(bucketTagIDs).Put(itob(tag.ID), []byte(name)); err != nil {
		return nil, err
	}
	return &tag, nil
}

// DefineTag registers a tag definition, creating the tag if needed. The
// usage count is left untouched.
func (s *Store) DefineTag(name, description string) (*models.ChangeTag, error) {
	var out *models.ChangeTag
	err := s.db.Update(func(tx *bolt.Tx) error {
		tag, err := acquireTagTx(tx, name)
		if err != nil {
			return err
		}
		tag.Defined = true
		tag.Description = description
		out = tag
		return putJSON(tx.Bucket(bucketTags), []byte(name), tag)
	})
	return out, err
}

// GetTag retrieves a tag by name. Returns (nil, nil) if not found.
func (s *Store) GetTag(name string) (*models.ChangeTag, error) {
	var tag *models.ChangeTag
	err := s.db.View(func(tx *bolt.Tx) error {
		var t models.ChangeTag
		found, err := getJSON(tx.Bucket(bucketTags), []byte(name), &t)
		if found {
			tag = &t
		}
		return err
	})
	return tag, err
}

// AddTagAssociation links a tag to a revision or log entry and, when the
// link is new, increments the tag's usage count. Returns false if the link
// already existed.
func (s *Store) AddTagAssociation(tagID int64, target string, targetID int64) (bool, error) {
	var added bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		assoc := tx.Bucket(bucketTagAssoc)
		key := assocKey(tagID, target, targetID)
		if assoc.Get(key) != nil {
			return nil
		}

		name := tx.Bucket(bucketTagIDs).Get(itob(tagID))
		if name == nil {
			return fmt.Errorf("tag %d: %w", tagID, ErrNotFound)
		}
		tags := tx.Bucket(bucketTags)
		var tag models.ChangeTag
		if _, err := getJSON(tags, name, &tag); err != nil {
			return err
		}
		tag.Count++

		if err := assoc.Put(key, []byte{}); err != nil {
			return err
		}
		added = true
		return putJSON(tags, name, &tag)
	})
	return added, err
}

// ListTags returns all tags ordered by name.
func (s *Store) ListTags() ([]*models.ChangeTag, error) {
	var out []*models.ChangeTag
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTags).ForEach(func(_, v []byte) error {
			var t models.ChangeTag
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("unmarshal tag: %w", err)
			}
			out = append(out, &t)
			return nil
		})
	})
	return out, err
}
