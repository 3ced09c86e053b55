package core

import (
	"context"
	"fmt"
	"slices"

	"github.com/kilupskalvis/wikimirror/internal/models"
	"github.com/kilupskalvis/wikimirror/internal/remote"
)

// RestrictionImporter copies page protections onto pages already mirrored.
type RestrictionImporter struct {
	pages  PageStore
	dryRun bool
	stats  ImportStats
}

// NewRestrictionImporter creates a restriction importer.
func NewRestrictionImporter(pages PageStore, dryRun bool) *RestrictionImporter {
	return &RestrictionImporter{pages: pages, dryRun: dryRun}
}

// Stats returns the importer's counts. Skipped counts pages not mirrored
// yet and pages whose restrictions are unchanged.
func (ri *RestrictionImporter) Stats() ImportStats { return ri.stats }

// Process upserts the restrictions of one page.
func (ri *RestrictionImporter) Process(ctx context.Context, p remote.PageProtection) error {
	page, err := ri.pages.GetPage(p.PageID)
	if err != nil {
		return fmt.Errorf("get page %d: %w", p.PageID, err)
	}
	if page == nil || sameRestrictions(page.Restrictions, p.Restrictions) {
		ri.stats.Skipped++
		return nil
	}
	if ri.dryRun {
		ri.stats.Imported++
		return nil
	}

	page.Restrictions = p.Restrictions
	if err := ri.pages.UpdatePage(page); err != nil {
		return fmt.Errorf("update page %d: %w", p.PageID, err)
	}
	ri.stats.Imported++
	return nil
}

func sameRestrictions(a, b []models.Restriction) bool {
	return slices.EqualFunc(a, b, func(x, y models.Restriction) bool {
		return x.Type == y.Type && x.Level == y.Level && x.Cascade == y.Cascade && x.Expiry.Equal(y.Expiry)
	})
}

// ProtectionAttrs labels a page protection in logs.
func ProtectionAttrs(p remote.PageProtection) []any {
	return []any{"page_id", p.PageID, "title", p.Title}
}
