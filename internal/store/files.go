package store

import (
	"github.com/kilupskalvis/wikimirror/internal/models"
	bolt "go.etcd.io/bbolt"
)

// GetFile retrieves a file version record. Returns (nil, nil) if not found.
func (s *Store) GetFile(name, archiveName string) (*models.FileRecord, error) {
	var rec *models.FileRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		var r models.FileRecord
		found, err := getJSON(tx.Bucket(bucketFiles), []byte(models.FileKey(name, archiveName)), &r)
		if found {
			rec = &r
		}
		return err
	})
	return rec, err
}

// PutFile inserts or replaces a file version record.
func (s *Store) PutFile(rec *models.FileRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketFiles), []byte(models.FileKey(rec.Name, rec.ArchiveName)), rec)
	})
}

// InsertLogEntry stores a log entry under its remote id.
func (s *Store) InsertLogEntry(entry *models.LogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketLogEntries), itob(entry.ID), entry)
	})
}

// GetLogEntry retrieves a log entry. Returns (nil, nil) if not found.
func (s *Store) GetLogEntry(id int64) (*models.LogEntry, error) {
	var entry *models.LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		var e models.LogEntry
		found, err := getJSON(tx.Bucket(bucketLogEntries), itob(id), &e)
		if found {
			entry = &e
		}
		return err
	})
	return entry, err
}
