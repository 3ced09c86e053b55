package store

import (
	"bytes"
	"fmt"

	"github.com/kilupskalvis/wikimirror/internal/models"
	bolt "go.etcd.io/bbolt"
)

// GetActorByRemoteID retrieves the actor mapped to a remote user id.
// Returns (nil, nil) if the remote user has never been seen.
func (s *Store) GetActorByRemoteID(remoteID int64) (*models.Actor, error) {
	var actor *models.Actor
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketActorRemote).Get(itob(remoteID))
		if id == nil {
			return nil
		}
		var a models.Actor
		found, err := getJSON(tx.Bucket(bucketActors), id, &a)
		if found {
			actor = &a
		}
		return err
	})
	return actor, err
}

// GetActorByName retrieves an actor by its canonical name. Lookups are
// served from the in-memory cache when possible.
func (s *Store) GetActorByName(name string) (*models.Actor, error) {
	if a, ok := s.actors.Get(name); ok {
		return &a, nil
	}

	var actor *models.Actor
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketActorNames).Get([]byte(name))
		if id == nil {
			return nil
		}
		var a models.Actor
		found, err := getJSON(tx.Bucket(bucketActors), id, &a)
		if found {
			actor = &a
		}
		return err
	})
	if err != nil || actor == nil {
		return actor, err
	}
	s.actors.Add(name, *actor)
	return actor, nil
}

// CreateActor assigns a new local id to the actor and stores it.
// The name must be free; a non-zero RemoteUserID must not be mapped yet.
func (s *Store) CreateActor(actor *models.Actor) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		actors := tx.Bucket(bucketActors)
		names := tx.Bucket(bucketActorNames)
		remotes := tx.Bucket(bucketActorRemote)

		if names.Get([]byte(actor.Name)) != nil {
			return fmt.Errorf("actor %q: %w", actor.Name, ErrNameTaken)
		}
		if actor.RemoteUserID != 0 && remotes.Get(itob(actor.RemoteUserID)) != nil {
			return fmt.Errorf("remote user %d already mapped", actor.RemoteUserID)
		}

		seq, err := actors.NextSequence()
		if err != nil {
			return fmt.Errorf("allocate actor id: %w", err)
		}
		actor.ID = int64(seq)
		key := itob(actor.ID)

		if err := putJSON(actors, key, actor); err != nil {
			return err
		}
		if err := names.Put([]byte(actor.Name), key); err != nil {
			return err
		}
		if actor.RemoteUserID != 0 {
			return remotes.Put(itob(actor.RemoteUserID), key)
		}
		return nil
	})
}

// RenameActor renames an actor in place and marks it migrated, recording the
// previous name. The new name must not be held by another actor.
func (s *Store) RenameActor(id int64, newName string) (*models.Actor, error) {
	var renamed models.Actor
	err := s.db.Update(func(tx *bolt.Tx) error {
		actors := tx.Bucket(bucketActors)
		names := tx.Bucket(bucketActorNames)
		key := itob(id)

		found, err := getJSON(actors, key, &renamed)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("actor %d: %w", id, ErrNotFound)
		}
		if holder := names.Get([]byte(newName)); holder != nil && !bytes.Equal(holder, key) {
			return fmt.Errorf("actor %q: %w", newName, ErrNameTaken)
		}

		oldName := renamed.Name
		if oldName != newName {
			if err := names.Delete([]byte(oldName)); err != nil {
				return err
			}
			if err := names.Put([]byte(newName), key); err != nil {
				return err
			}
			renamed.MigratedFrom = oldName
		}
		renamed.Name = newName
		renamed.Migrated = true
		return putJSON(actors, key, &renamed)
	})
	if err != nil {
		return nil, err
	}
	if renamed.MigratedFrom != "" {
		s.actors.Remove(renamed.MigratedFrom)
	}
	s.actors.Remove(newName)
	return &renamed, nil
}

// InvalidateActor drops any cached lookups for the given names.
func (s *Store) InvalidateActor(names ...string) {
	for _, n := range names {
		s.actors.Remove(n)
	}
}
