package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kilupskalvis/wikimirror/internal/models"
)

// ImportStats counts per-item outcomes of an importer.
type ImportStats struct {
	Imported int
	Skipped  int
	Corrupt  int
	Hidden   int
}

// RevisionImporter mirrors revisions, or deleted revisions when Deleted is
// set. Revisions already present are skipped.
type RevisionImporter struct {
	revs      RevisionStore
	identity  *IdentityReconciler
	conflicts *ConflictResolver
	tags      *TagApplier
	deleted   bool
	dryRun    bool
	logger    *slog.Logger
	stats     ImportStats
}

// RevisionImporterOptions configures a RevisionImporter.
type RevisionImporterOptions struct {
	Deleted bool
	DryRun  bool
	Logger  *slog.Logger
}

// NewRevisionImporter creates a revision importer.
func NewRevisionImporter(revs RevisionStore, identity *IdentityReconciler, conflicts *ConflictResolver, tags *TagApplier, opts RevisionImporterOptions) *RevisionImporter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RevisionImporter{
		revs:      revs,
		identity:  identity,
		conflicts: conflicts,
		tags:      tags,
		deleted:   opts.Deleted,
		dryRun:    opts.DryRun,
		logger:    logger,
	}
}

// Stats returns the importer's counts.
func (ri *RevisionImporter) Stats() ImportStats { return ri.stats }

// Process imports one revision. It is the Pager processor for revision runs.
func (ri *RevisionImporter) Process(ctx context.Context, rr models.RemoteRevision) error {
	synced, err := ri.revs.HasRevision(rr.ID)
	if err != nil {
		return fmt.Errorf("check revision %d: %w", rr.ID, err)
	}
	if synced {
		ri.stats.Skipped++
		return nil
	}
	if ri.dryRun {
		ri.stats.Imported++
		return nil
	}

	actorID, err := actorFor(ctx, ri.identity, rr.UserID, rr.UserName)
	if err != nil {
		return err
	}

	// Archived revisions belong to deleted pages and never touch live pages.
	if !ri.deleted && rr.PageID != 0 {
		if _, err := ri.conflicts.EnsurePage(ctx, rr.Namespace, rr.Title, rr.PageID); err != nil {
			return err
		}
	}

	local := localFromRemote(&rr, actorID, ri.deleted)
	if err := ri.revs.InsertRevision(local, !ri.deleted); err != nil {
		return fmt.Errorf("insert revision %d: %w", rr.ID, err)
	}
	if err := ri.tags.Apply(ctx, rr.Tags, rr.ID, 0); err != nil {
		return err
	}
	ri.stats.Imported++
	return nil
}

// RevisionAttrs labels a revision in logs.
func RevisionAttrs(rr models.RemoteRevision) []any {
	return []any{"rev_id", rr.ID, "page_id", rr.PageID, "timestamp", rr.Timestamp}
}

// DigestAttrs labels a digest in logs.
func DigestAttrs(d models.RevisionDigest) []any {
	return []any{"rev_id", d.ID, "parent_id", d.ParentID, "timestamp", d.Timestamp}
}

// actorFor resolves the author of a record. A hidden author resolves to 0.
func actorFor(ctx context.Context, identity *IdentityReconciler, userID int64, userName string) (int64, error) {
	if userID == 0 && userName == "" {
		return 0, nil
	}
	a, err := identity.Resolve(ctx, userID, userName)
	if err != nil {
		return 0, fmt.Errorf("resolve actor %d %q: %w", userID, userName, err)
	}
	return a.ID, nil
}

func localFromRemote(rr *models.RemoteRevision, actorID int64, deleted bool) *models.LocalRevision {
	return &models.LocalRevision{
		ID:           rr.ID,
		ParentID:     rr.ParentID,
		PageID:       rr.PageID,
		Timestamp:    rr.Timestamp,
		ActorID:      actorID,
		Comment:      rr.Comment,
		Content:      rr.Content,
		ContentModel: rr.ContentModel,
		Length:       len(rr.Content),
		SHA1:         rr.SHA1,
		Visibility:   rr.Visibility,
		Deleted:      deleted,
	}
}
