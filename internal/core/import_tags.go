package core

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/wikimirror/internal/models"
)

// TagDefinitionImporter registers the remote's change tag definitions so
// local ids exist before revisions reference them.
type TagDefinitionImporter struct {
	store  TagDefinitionStore
	dryRun bool
	stats  ImportStats
}

// NewTagDefinitionImporter creates a tag definition importer.
func NewTagDefinitionImporter(store TagDefinitionStore, dryRun bool) *TagDefinitionImporter {
	return &TagDefinitionImporter{store: store, dryRun: dryRun}
}

// Stats returns the importer's counts.
func (ti *TagDefinitionImporter) Stats() ImportStats { return ti.stats }

// Process registers one tag. Definitions already stored unchanged are
// skipped.
func (ti *TagDefinitionImporter) Process(ctx context.Context, t models.ChangeTag) error {
	if t.Name == "" {
		ti.stats.Skipped++
		return nil
	}
	existing, err := ti.store.GetTag(t.Name)
	if err != nil {
		return fmt.Errorf("get tag %q: %w", t.Name, err)
	}
	if existing != nil && existing.Defined == t.Defined && existing.Description == t.Description {
		ti.stats.Skipped++
		return nil
	}
	if ti.dryRun {
		ti.stats.Imported++
		return nil
	}
	if t.Defined {
		_, err = ti.store.DefineTag(t.Name, t.Description)
	} else {
		_, err = ti.store.AcquireTagID(t.Name)
	}
	if err != nil {
		return fmt.Errorf("register tag %q: %w", t.Name, err)
	}
	ti.stats.Imported++
	return nil
}
