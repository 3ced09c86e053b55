package core

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/wikimirror/internal/models"
)

// TagApplier attaches change tags to revisions and log entries. Re-applying
// the same tags is a no-op.
type TagApplier struct {
	store   TagStore
	ids     map[string]int64
	applied int
}

// NewTagApplier creates a tag applier.
func NewTagApplier(store TagStore) *TagApplier {
	return &TagApplier{store: store, ids: make(map[string]int64)}
}

// Applied returns the number of new associations created.
func (a *TagApplier) Applied() int { return a.applied }

// Apply attaches tags to exactly one of revID or logID.
func (a *TagApplier) Apply(ctx context.Context, tags []string, revID, logID int64) error {
	if len(tags) == 0 {
		return nil
	}
	if (revID == 0) == (logID == 0) {
		return ErrTagTarget
	}
	target, targetID := models.TagTargetRevision, revID
	if logID != 0 {
		target, targetID = models.TagTargetLog, logID
	}

	for _, name := range tags {
		if name == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		id, ok := a.ids[name]
		if !ok {
			var err error
			id, err = a.store.AcquireTagID(name)
			if err != nil {
				return fmt.Errorf("acquire tag %q: %w", name, err)
			}
			a.ids[name] = id
		}
		added, err := a.store.AddTagAssociation(id, target, targetID)
		if err != nil {
			return fmt.Errorf("tag %s %d with %q: %w", target, targetID, name, err)
		}
		if added {
			a.applied++
		}
	}
	return nil
}
