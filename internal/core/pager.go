package core

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/kilupskalvis/wikimirror/internal/metrics"
	"github.com/kilupskalvis/wikimirror/internal/models"
	"github.com/kilupskalvis/wikimirror/internal/remote"
)

// PageStats summarizes a paginated run.
type PageStats struct {
	Pages   int
	Items   int
	Stalled int
	Failed  int
	// LastCursor is the cursor of the last page requested. It is for audit;
	// a finished run has nothing left to resume.
	LastCursor *models.SyncCursor
}

// PagerOptions configures a Pager.
type PagerOptions struct {
	// Scope is the content type, direction, namespace and time window of the
	// run. A non-empty Scope.Continue resumes from a saved position.
	Scope *models.SyncCursor

	// ProgressEvery logs a progress line every N pages. Zero disables it.
	ProgressEvery int

	// CheckpointEvery emits the cursor through OnCheckpoint after every N
	// consecutive empty pages. Zero disables it.
	CheckpointEvery int
	OnCheckpoint    func(c *models.SyncCursor)

	// OnPage is called after every page that has a successor, with the cursor
	// of that successor. An error aborts the run.
	OnPage func(c *models.SyncCursor) error

	Logger *slog.Logger
}

// Pager drives a continuation-token query loop and hands every decoded item
// to a processor. Pages that decode to zero items while still carrying a
// continuation are stalled, not final.
type Pager[T any] struct {
	client    Querier
	extract   remote.Extractor[T]
	opts      PagerOptions
	itemAttrs func(T) []any
	logger    *slog.Logger
}

// NewPager creates a pager over client using extract to decode pages.
func NewPager[T any](client Querier, extract remote.Extractor[T], opts PagerOptions) *Pager[T] {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Scope == nil {
		opts.Scope = &models.SyncCursor{}
	}
	return &Pager[T]{
		client:  client,
		extract: extract,
		opts:    opts,
		logger:  logger.With("content", opts.Scope.ContentType),
	}
}

// WithItemAttrs sets the function used to label items in failure logs.
func (p *Pager[T]) WithItemAttrs(fn func(T) []any) *Pager[T] {
	p.itemAttrs = fn
	return p
}

// Run pages through the result set starting from params, calling process
// for every item in yield order.
//
// Query errors propagate; the first page's are fatal. A malformed first page
// is fatal, a malformed later page counts as stalled. Processor errors are
// logged and counted unless IsFatal reports them, which aborts the run.
func (p *Pager[T]) Run(ctx context.Context, params map[string]string, process func(context.Context, T) error) (*PageStats, error) {
	content := p.opts.Scope.ContentType
	stats := &PageStats{}

	req := maps.Clone(params)
	if req == nil {
		req = make(map[string]string)
	}
	prev := maps.Clone(p.opts.Scope.Continue)
	maps.Copy(req, prev)

	emptyStreak := 0
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		stats.LastCursor = p.cursor(prev)
		resp, err := p.client.Query(ctx, req)
		if err != nil {
			if stats.Pages == 0 {
				return stats, Fatal("query first page", err)
			}
			return stats, fmt.Errorf("query page %d: %w", stats.Pages+1, err)
		}
		stats.Pages++
		metrics.PagesFetched.WithLabelValues(content).Inc()

		items, err := p.extract(resp)
		if err != nil {
			if stats.Pages == 1 {
				return stats, Fatal("decode first page", fmt.Errorf("%w: %v", ErrMalformedFirstPage, err))
			}
			p.logger.Warn("malformed page treated as stalled", "page", stats.Pages, "error", err)
			items = nil
		}

		if len(items) == 0 && resp.HasMore() {
			stats.Stalled++
			emptyStreak++
			metrics.StalledPages.WithLabelValues(content).Inc()
			if p.opts.CheckpointEvery > 0 && emptyStreak%p.opts.CheckpointEvery == 0 && p.opts.OnCheckpoint != nil {
				p.logger.Info("stalled paging", "consecutive_empty", emptyStreak, "page", stats.Pages)
				p.opts.OnCheckpoint(p.cursor(resp.Continue))
			}
		} else if len(items) > 0 {
			emptyStreak = 0
		}

		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Items++
			if err := process(ctx, item); err != nil {
				if IsFatal(err) {
					return stats, err
				}
				stats.Failed++
				metrics.ItemsProcessed.WithLabelValues(content, "failed").Inc()
				attrs := []any{"page", stats.Pages, "error", err}
				if p.itemAttrs != nil {
					attrs = append(attrs, p.itemAttrs(item)...)
				}
				p.logger.Error("item failed", attrs...)
				continue
			}
			metrics.ItemsProcessed.WithLabelValues(content, "ok").Inc()
		}

		if p.opts.ProgressEvery > 0 && stats.Pages%p.opts.ProgressEvery == 0 {
			p.logger.Info("progress",
				"pages", stats.Pages,
				"items", stats.Items,
				"stalled", stats.Stalled,
				"failed", stats.Failed,
			)
		}

		if !resp.HasMore() {
			return stats, nil
		}

		// Continuation keys from the previous page are replaced, not merged.
		for k := range prev {
			delete(req, k)
		}
		maps.Copy(req, resp.Continue)
		prev = maps.Clone(resp.Continue)

		if p.opts.OnPage != nil {
			if err := p.opts.OnPage(p.cursor(prev)); err != nil {
				return stats, fmt.Errorf("save checkpoint: %w", err)
			}
		}
	}
}

// cursor snapshots the scope with the given continuation.
func (p *Pager[T]) cursor(cont map[string]string) *models.SyncCursor {
	c := p.opts.Scope.Clone()
	c.Continue = maps.Clone(cont)
	c.UpdatedAt = time.Now().UTC()
	return c
}
