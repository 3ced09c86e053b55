package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kilupskalvis/wikimirror/internal/metrics"
	"github.com/kilupskalvis/wikimirror/internal/models"
	"github.com/kilupskalvis/wikimirror/internal/store"
)

// maxRelocationTries bounds the placeholder suffix search.
const maxRelocationTries = 1000

// ConflictResolver keeps page titles unique when remote moves have not been
// replayed locally yet.
type ConflictResolver struct {
	pages     PageStore
	sink      FindingSink
	logger    *slog.Logger
	relocated int
}

// NewConflictResolver creates a resolver. sink may be nil.
func NewConflictResolver(pages PageStore, sink FindingSink, logger *slog.Logger) *ConflictResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConflictResolver{pages: pages, sink: sink, logger: logger}
}

// Relocated returns the number of pages moved aside so far.
func (c *ConflictResolver) Relocated() int { return c.relocated }

// ReserveSlot frees (ns, title) for incomingPageID. If another local page
// holds the title it is relocated to a placeholder title. Only storage
// errors are returned.
func (c *ConflictResolver) ReserveSlot(ctx context.Context, ns int, title string, incomingPageID int64) error {
	occupant, err := c.pages.GetPageByTitle(ns, title)
	if err != nil {
		return fmt.Errorf("check title %q: %w", title, err)
	}
	if occupant == nil || occupant.ID == incomingPageID {
		return nil
	}

	base := fmt.Sprintf("%s/conflict-%d", title, occupant.ID)
	for i := 1; i <= maxRelocationTries; i++ {
		placeholder := base
		if i > 1 {
			placeholder = fmt.Sprintf("%s-%d", base, i)
		}
		holder, err := c.pages.GetPageByTitle(ns, placeholder)
		if err != nil {
			return fmt.Errorf("check title %q: %w", placeholder, err)
		}
		if holder != nil {
			continue
		}

		err = c.pages.RetitlePage(occupant.ID, ns, placeholder)
		if errors.Is(err, store.ErrTitleTaken) {
			continue
		}
		if err != nil {
			return fmt.Errorf("relocate page %d: %w", occupant.ID, err)
		}

		c.relocated++
		metrics.Relocations.Inc()
		c.logger.Info("title conflict resolved",
			"ns", ns, "title", title, "incoming_page", incomingPageID,
			"occupant_page", occupant.ID, "placeholder", placeholder)
		if c.sink != nil {
			detail := fmt.Sprintf("page %d moved from %q to %q for page %d", occupant.ID, title, placeholder, incomingPageID)
			if err := c.sink.Record(ctx, models.Finding{Kind: models.FindingConflict, Detail: detail}); err != nil {
				c.logger.Warn("record finding", "error", err)
			}
		}
		return nil
	}
	return fmt.Errorf("no free placeholder for page %d after %d tries", occupant.ID, maxRelocationTries)
}

// EnsurePage makes sure the local page pageID exists at (ns, title). A new
// page is inserted; a page known under another title is moved, replaying the
// remote move. Either way the slot is reserved first.
func (c *ConflictResolver) EnsurePage(ctx context.Context, ns int, title string, pageID int64) (*models.Page, error) {
	page, err := c.pages.GetPage(pageID)
	if err != nil {
		return nil, fmt.Errorf("get page %d: %w", pageID, err)
	}
	if page != nil && page.Namespace == ns && page.Title == title {
		return page, nil
	}

	if err := c.ReserveSlot(ctx, ns, title, pageID); err != nil {
		return nil, err
	}

	if page == nil {
		page = &models.Page{ID: pageID, Namespace: ns, Title: title}
		if err := c.pages.InsertPage(page); err != nil {
			return nil, fmt.Errorf("insert page %d: %w", pageID, err)
		}
		return page, nil
	}

	c.logger.Debug("page move replayed", "page", pageID, "from", page.Title, "to", title)
	if err := c.pages.RetitlePage(pageID, ns, title); err != nil {
		return nil, fmt.Errorf("move page %d: %w", pageID, err)
	}
	page.Namespace = ns
	page.Title = title
	return page, nil
}
