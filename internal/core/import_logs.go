package core

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/wikimirror/internal/models"
	"github.com/kilupskalvis/wikimirror/internal/remote"
)

// LogImporter mirrors log entries and the change tags attached to them.
// Entries already present are skipped.
type LogImporter struct {
	store    LogStore
	identity *IdentityReconciler
	tags     *TagApplier
	dryRun   bool
	stats    ImportStats
}

// NewLogImporter creates a log importer.
func NewLogImporter(store LogStore, identity *IdentityReconciler, tags *TagApplier, dryRun bool) *LogImporter {
	return &LogImporter{store: store, identity: identity, tags: tags, dryRun: dryRun}
}

// Stats returns the importer's counts. Hidden counts entries whose
// performer is suppressed and stored without an actor.
func (li *LogImporter) Stats() ImportStats { return li.stats }

// Process imports one log entry.
func (li *LogImporter) Process(ctx context.Context, e remote.LogEvent) error {
	existing, err := li.store.GetLogEntry(e.ID)
	if err != nil {
		return fmt.Errorf("get log entry %d: %w", e.ID, err)
	}
	if existing != nil {
		li.stats.Skipped++
		return nil
	}
	if li.dryRun {
		li.stats.Imported++
		return nil
	}

	var actorID int64
	if e.UserHidden {
		li.stats.Hidden++
	} else {
		actorID, err = actorFor(ctx, li.identity, e.UserID, e.UserName)
		if err != nil {
			return err
		}
	}

	entry := &models.LogEntry{
		ID:        e.ID,
		Type:      e.Type,
		Action:    e.Action,
		PageID:    e.PageID,
		ActorID:   actorID,
		Timestamp: e.Timestamp,
	}
	if err := li.store.InsertLogEntry(entry); err != nil {
		return fmt.Errorf("insert log entry %d: %w", e.ID, err)
	}
	if err := li.tags.Apply(ctx, e.Tags, 0, e.ID); err != nil {
		return err
	}
	li.stats.Imported++
	return nil
}

// LogAttrs labels a log entry in logs.
func LogAttrs(e remote.LogEvent) []any {
	return []any{"log_id", e.ID, "type", e.Type, "title", e.Title}
}
