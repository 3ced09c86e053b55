package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kilupskalvis/wikimirror/internal/metrics"
	"github.com/kilupskalvis/wikimirror/internal/models"
)

// VerifyResult holds the exact counts of a verification run.
type VerifyResult struct {
	Checked    int
	Missing    int
	Mismatched int
	Repaired   int
	Unfixable  int
	Failed     int
}

// VerifyOptions configures a Verifier.
type VerifyOptions struct {
	// DryRun detects and reports exactly as a real run but writes nothing.
	DryRun bool
	Sink   FindingSink
	Logger *slog.Logger
}

// Verifier compares remote revision digests with the local store, backfills
// missing revisions and repairs zero-length content.
type Verifier struct {
	revs      RevisionStore
	fetcher   RevisionFetcher
	identity  *IdentityReconciler
	conflicts *ConflictResolver
	tags      *TagApplier
	opts      VerifyOptions
	logger    *slog.Logger

	result VerifyResult
	// planned holds ids a dry run would have inserted, so their children
	// still classify as missing rather than unfixable.
	planned map[int64]bool
}

// NewVerifier creates a verifier. tags may be nil.
func NewVerifier(revs RevisionStore, fetcher RevisionFetcher, identity *IdentityReconciler, conflicts *ConflictResolver, tags *TagApplier, opts VerifyOptions) *Verifier {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		revs:      revs,
		fetcher:   fetcher,
		identity:  identity,
		conflicts: conflicts,
		tags:      tags,
		opts:      opts,
		logger:    logger,
		planned:   make(map[int64]bool),
	}
}

// Result returns the counts so far.
func (v *Verifier) Result() VerifyResult {
	return v.result
}

// Check classifies one digest and acts on it. It is the Pager processor for
// verification runs.
func (v *Verifier) Check(ctx context.Context, d models.RevisionDigest) error {
	v.result.Checked++
	if err := v.check(ctx, d); err != nil {
		v.result.Failed++
		return err
	}
	return nil
}

func (v *Verifier) check(ctx context.Context, d models.RevisionDigest) error {
	if v.planned[d.ID] {
		return nil
	}
	local, err := v.revs.GetRevision(d.ID)
	if err != nil {
		return fmt.Errorf("get revision %d: %w", d.ID, err)
	}
	if local == nil {
		return v.backfill(ctx, d)
	}

	if local.SHA1 == "" || d.SHA1 == "" || strings.EqualFold(local.SHA1, d.SHA1) {
		return nil
	}

	v.result.Mismatched++
	v.report(ctx, models.Finding{
		Kind:      models.FindingMismatch,
		RevID:     d.ID,
		ParentID:  d.ParentID,
		Timestamp: d.Timestamp,
		Detail:    fmt.Sprintf("local %s remote %s length %d", local.SHA1, d.SHA1, local.Length),
	})
	if local.Length != 0 {
		return nil
	}
	return v.repair(ctx, local, d)
}

// backfill inserts a revision missing locally, provided its parent is known.
func (v *Verifier) backfill(ctx context.Context, d models.RevisionDigest) error {
	var parent *models.LocalRevision
	if d.ParentID != 0 && !v.planned[d.ParentID] {
		var err error
		parent, err = v.revs.GetRevision(d.ParentID)
		if err != nil {
			return fmt.Errorf("get parent %d of revision %d: %w", d.ParentID, d.ID, err)
		}
		if parent == nil {
			v.result.Unfixable++
			v.logger.Warn("unfixable gap, parent missing",
				"rev_id", d.ID, "parent_id", d.ParentID, "timestamp", d.Timestamp)
			v.report(ctx, models.Finding{
				Kind:      models.FindingUnfixable,
				RevID:     d.ID,
				ParentID:  d.ParentID,
				Timestamp: d.Timestamp,
				Detail:    "parent revision not mirrored",
			})
			return nil
		}
	}

	if v.opts.DryRun {
		v.planned[d.ID] = true
		v.result.Missing++
		v.report(ctx, models.Finding{Kind: models.FindingMissing, RevID: d.ID, ParentID: d.ParentID, Timestamp: d.Timestamp})
		return nil
	}

	rr, err := v.fetcher.FetchRevision(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("fetch revision %d: %w", d.ID, err)
	}
	actorID, err := actorFor(ctx, v.identity, rr.UserID, rr.UserName)
	if err != nil {
		return err
	}

	local := localFromRemote(rr, actorID, false)
	local.ParentID = d.ParentID
	if parent != nil && local.PageID == 0 {
		local.PageID = parent.PageID
	}
	if rr.PageID != 0 && rr.Title != "" {
		if _, err := v.conflicts.EnsurePage(ctx, rr.Namespace, rr.Title, rr.PageID); err != nil {
			return err
		}
	}
	if err := v.revs.InsertRevision(local, true); err != nil {
		return fmt.Errorf("insert revision %d: %w", d.ID, err)
	}
	if v.tags != nil {
		if err := v.tags.Apply(ctx, rr.Tags, rr.ID, 0); err != nil {
			return err
		}
	}

	v.result.Missing++
	v.logger.Info("missing revision backfilled", "rev_id", d.ID, "parent_id", d.ParentID, "timestamp", d.Timestamp)
	v.report(ctx, models.Finding{Kind: models.FindingMissing, RevID: d.ID, ParentID: d.ParentID, Timestamp: d.Timestamp, Detail: "backfilled"})
	return nil
}

// repair rewrites zero-length content from the remote. Local timestamp,
// visibility and comment are kept.
func (v *Verifier) repair(ctx context.Context, local *models.LocalRevision, d models.RevisionDigest) error {
	if v.opts.DryRun {
		v.logger.Info("zero-length revision would be repaired", "rev_id", d.ID)
		return nil
	}

	rr, err := v.fetcher.FetchRevision(ctx, d.ID)
	if err != nil {
		return fmt.Errorf("fetch revision %d: %w", d.ID, err)
	}
	if rr.Content == "" {
		v.logger.Warn("remote content unavailable, repair skipped", "rev_id", d.ID, "visibility", int(rr.Visibility))
		return nil
	}

	fixed := *local
	fixed.Content = rr.Content
	fixed.Length = len(rr.Content)
	fixed.SHA1 = rr.SHA1
	if fixed.SHA1 == "" {
		fixed.SHA1 = d.SHA1
	}
	if rr.ContentModel != "" {
		fixed.ContentModel = rr.ContentModel
	}
	if err := v.revs.UpdateRevision(&fixed); err != nil {
		return fmt.Errorf("update revision %d: %w", d.ID, err)
	}

	v.result.Repaired++
	v.logger.Info("zero-length revision repaired", "rev_id", d.ID, "length", fixed.Length)
	v.report(ctx, models.Finding{Kind: models.FindingRepaired, RevID: d.ID, Timestamp: local.Timestamp})
	return nil
}

func (v *Verifier) report(ctx context.Context, f models.Finding) {
	metrics.Findings.WithLabelValues(string(f.Kind)).Inc()
	if v.opts.Sink == nil {
		return
	}
	if err := v.opts.Sink.Record(ctx, f); err != nil {
		v.logger.Warn("record finding", "rev_id", f.RevID, "error", err)
	}
}
