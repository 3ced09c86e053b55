package store

import (
	"fmt"

	"github.com/kilupskalvis/wikimirror/internal/models"
	bolt "go.etcd.io/bbolt"
)

// GetRevision retrieves a revision by id. Returns (nil, nil) if not found.
func (s *Store) GetRevision(id int64) (*models.LocalRevision, error) {
	var rev *models.LocalRevision
	err := s.db.View(func(tx *bolt.Tx) error {
		var r models.LocalRevision
		found, err := getJSON(tx.Bucket(bucketRevisions), itob(id), &r)
		if found {
			rev = &r
		}
		return err
	})
	return rev, err
}

// HasRevision reports whether a revision id is mirrored.
func (s *Store) HasRevision(id int64) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketRevisions).Get(itob(id)) != nil
		return nil
	})
	return exists, err
}

// InsertRevision stores a new revision. When advanceLatest is set and the
// revision's page exists, the page's latest revision pointer moves forward
// if this revision is newer. Both writes share one transaction.
func (s *Store) InsertRevision(rev *models.LocalRevision, advanceLatest bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		revs := tx.Bucket(bucketRevisions)
		key := itob(rev.ID)
		if revs.Get(key) != nil {
			return fmt.Errorf("revision %d: %w", rev.ID, ErrRevisionExists)
		}
		if err := putJSON(revs, key, rev); err != nil {
			return fmt.Errorf("store revision %d: %w", rev.ID, err)
		}

		if !advanceLatest || rev.PageID == 0 {
			return nil
		}
		pages := tx.Bucket(bucketPages)
		var page models.Page
		found, err := getJSON(pages, itob(rev.PageID), &page)
		if err != nil || !found {
			return err
		}
		if page.LatestRevID != 0 {
			var latest models.LocalRevision
			ok, err := getJSON(revs, itob(page.LatestRevID), &latest)
			if err != nil {
				return err
			}
			if ok && latest.Timestamp.After(rev.Timestamp) {
				return nil
			}
		}
		page.LatestRevID = rev.ID
		return putJSON(pages, itob(page.ID), &page)
	})
}

// UpdateRevision overwrites an existing revision.
func (s *Store) UpdateRevision(rev *models.LocalRevision) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		revs := tx.Bucket(bucketRevisions)
		key := itob(rev.ID)
		if revs.Get(key) == nil {
			return fmt.Errorf("revision %d: %w", rev.ID, ErrNotFound)
		}
		return putJSON(revs, key, rev)
	})
}

// CountRevisions returns the number of mirrored revisions.
func (s *Store) CountRevisions() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketRevisions).Stats().KeyN
		return nil
	})
	return n, err
}
