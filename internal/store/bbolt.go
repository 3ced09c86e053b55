// Package store provides bbolt-based persistence for the mirror.
// It holds mirrored revisions, pages, actors, change tags, file records,
// log entries and resumable cursors in a single embedded database file.
// Every exported method runs in its own transaction.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kilupskalvis/wikimirror/internal/models"
	bolt "go.etcd.io/bbolt"
)

// Bucket names used by the mirror store.
var (
	bucketRevisions   = []byte("revisions")
	bucketPages       = []byte("pages")
	bucketPageTitles  = []byte("page_titles") // "ns:title" -> page id
	bucketActors      = []byte("actors")
	bucketActorRemote = []byte("actor_remote") // remote user id -> actor id
	bucketActorNames  = []byte("actor_names")  // name -> actor id
	bucketTags        = []byte("tags")         // name -> ChangeTag
	bucketTagIDs      = []byte("tag_ids")      // tag id -> name
	bucketTagAssoc    = []byte("tag_assoc")
	bucketFiles       = []byte("files")
	bucketLogEntries  = []byte("log_entries")
	bucketKV          = []byte("kv")
)

var (
	// ErrRevisionExists is returned when inserting a revision id twice.
	ErrRevisionExists = errors.New("revision already exists")
	// ErrPageExists is returned when inserting a page id twice.
	ErrPageExists = errors.New("page already exists")
	// ErrTitleTaken is returned when a page title is held by another page.
	ErrTitleTaken = errors.New("title already taken")
	// ErrNameTaken is returned when an actor name is held by another actor.
	ErrNameTaken = errors.New("actor name already taken")
	// ErrNotFound is returned when updating a record that does not exist.
	ErrNotFound = errors.New("record not found")
)

const actorCacheSize = 4096

// Store represents the bbolt database store.
type Store struct {
	db     *bolt.DB
	actors *lru.Cache[string, models.Actor]
}

// New opens or creates a bbolt database at the given path.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	cache, err := lru.New[string, models.Actor](actorCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create actor cache: %w", err)
	}

	return &Store{db: db, actors: cache}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Initialize creates all required buckets.
func (s *Store) Initialize() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketRevisions,
			bucketPages,
			bucketPageTitles,
			bucketActors,
			bucketActorRemote,
			bucketActorNames,
			bucketTags,
			bucketTagIDs,
			bucketTagAssoc,
			bucketFiles,
			bucketLogEntries,
			bucketKV,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// GetValue gets a value from the key-value bucket.
func (s *Store) GetValue(key string) (string, error) {
	var val string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v != nil {
			val = string(v)
		}
		return nil
	})
	return val, err
}

// SetValue sets a value in the key-value bucket.
func (s *Store) SetValue(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		if b == nil {
			return fmt.Errorf("kv bucket not found")
		}
		return b.Put([]byte(key), []byte(value))
	})
}

// DeleteValue removes a key from the key-value bucket.
func (s *Store) DeleteValue(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// itob encodes an id as a sortable big-endian key.
func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func btoi(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// getJSON decodes the value at key into out. Returns false if absent.
func getJSON(b *bolt.Bucket, key []byte, out any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return b.Put(key, data)
}
