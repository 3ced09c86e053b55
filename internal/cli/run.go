package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/kilupskalvis/wikimirror/internal/core"
	"github.com/kilupskalvis/wikimirror/internal/models"
	"github.com/kilupskalvis/wikimirror/internal/remote"
	"github.com/kilupskalvis/wikimirror/internal/report"
	"github.com/spf13/cobra"
)

// addScopeFlags registers the flags shared by every paginated command. The
// ones named like config keys override the file through viper.
func addScopeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Bool("resume", false, "Resume from the saved cursor of this content type")
	f.String("cursor", "", "Resume from an explicit cursor token")
	f.Bool("older", false, "Page from newest to oldest")
	f.Bool("dry-run", false, "Report what would change without writing")
	f.IntSlice("namespace", nil, "Namespaces to mirror (repeatable)")
	f.String("start", "", "Window start (RFC3339)")
	f.String("end", "", "Window end (RFC3339)")
	f.Int("page-size", 0, "Items per API page (1-500)")
	f.String("metrics-file", "", "Write Prometheus metrics to this textfile on exit")
}

// buildScope assembles the cursor scope of a run. A resumed run reuses the
// saved scope so its continuation stays valid.
func buildScope(c *cmdContext, cmd *cobra.Command, contentType string) *models.SyncCursor {
	token, _ := cmd.Flags().GetString("cursor")
	if token != "" {
		saved, err := models.DecodeCursor(token)
		if err != nil {
			c.fail("%v", err)
		}
		if saved.ContentType != "" && saved.ContentType != contentType {
			c.fail("cursor is for %s, not %s", saved.ContentType, contentType)
		}
		saved.ContentType = contentType
		return saved
	}

	if resume, _ := cmd.Flags().GetBool("resume"); resume {
		saved, err := c.Store.LoadCursor(contentType)
		if err != nil {
			c.fail("%v", err)
		}
		if saved != nil {
			c.Logger.Info("resuming", "content", contentType, "continue", saved.Continue)
			return saved
		}
		c.Logger.Warn("no saved cursor, starting from the beginning", "content", contentType)
	}

	start, end, err := c.Config.Window()
	if err != nil {
		c.fail("%v", err)
	}
	scope := &models.SyncCursor{
		ContentType: contentType,
		Direction:   models.DirectionNewer,
		Namespaces:  c.Config.Namespaces,
		Start:       start,
		End:         end,
	}
	if older, _ := cmd.Flags().GetBool("older"); older {
		scope.Direction = models.DirectionOlder
	}
	return scope
}

// runPaged drives one paginated run. The cursor is saved after every page
// and cleared when the run completes. A failed run prints the token to
// resume from and exits.
func runPaged[T any](ctx context.Context, c *cmdContext, scope *models.SyncCursor, params map[string]string,
	extract remote.Extractor[T], attrs func(T) []any, process func(context.Context, T) error) *core.PageStats {
	opts := core.PagerOptions{
		Scope:           scope,
		ProgressEvery:   c.Config.ProgressEvery,
		CheckpointEvery: c.Config.CheckpointEvery,
		OnCheckpoint: func(cur *models.SyncCursor) {
			if token, err := cur.Encode(); err == nil {
				c.Logger.Info("checkpoint", "cursor", token)
			}
		},
		Logger: c.Logger,
	}
	if !c.Config.DryRun {
		opts.OnPage = c.Store.SaveCursor
	}

	stats, err := core.NewPager(c.Client, extract, opts).WithItemAttrs(attrs).Run(ctx, params, process)
	if err != nil {
		if stats != nil && stats.LastCursor != nil && len(stats.LastCursor.Continue) > 0 {
			if token, encErr := stats.LastCursor.Encode(); encErr == nil {
				fmt.Fprintf(os.Stderr, "resume with: --cursor %s\n", token)
			}
		}
		switch {
		case errors.Is(err, context.Canceled):
			c.fail("interrupted")
		case core.IsFatal(err):
			c.fail("%v", err)
		default:
			c.fail("run aborted: %v", err)
		}
	}

	if !c.Config.DryRun {
		if err := c.Store.ClearCursor(scope.ContentType); err != nil {
			c.Logger.Warn("failed to clear cursor", "content", scope.ContentType, "error", err)
		}
	}
	return stats
}

// openReport opens the findings database when --report is set. The
// returned sink is nil otherwise. The context owns the report and closes it.
func openReport(c *cmdContext, cmd *cobra.Command) (core.FindingSink, *report.Store) {
	enabled, _ := cmd.Flags().GetBool("report")
	if !enabled {
		return nil, nil
	}
	rep, err := report.New(c.Config.ReportPath(), c.RunID)
	if err != nil {
		c.fail("failed to open report: %v", err)
	}
	c.report = rep
	return rep, rep
}

// fail closes the context and exits with an error.
func (c *cmdContext) fail(format string, args ...interface{}) {
	c.Close()
	exitError(format, args...)
}

func printPageStats(title string, stats *core.PageStats, dryRun bool) {
	bold := color.New(color.Bold)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	bold.Printf("%s", title)
	if dryRun {
		yellow.Printf(" (dry run)")
	}
	fmt.Println()
	fmt.Printf("  pages:   %d\n", stats.Pages)
	fmt.Printf("  items:   %d\n", stats.Items)
	if stats.Stalled > 0 {
		yellow.Printf("  stalled: %d\n", stats.Stalled)
	}
	if stats.Failed > 0 {
		red.Printf("  failed:  %d\n", stats.Failed)
	}
}

func printImportStats(s core.ImportStats) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	green.Printf("  imported: %d\n", s.Imported)
	fmt.Printf("  skipped:  %d\n", s.Skipped)
	if s.Hidden > 0 {
		fmt.Printf("  hidden:   %d\n", s.Hidden)
	}
	if s.Corrupt > 0 {
		red.Printf("  corrupt:  %d\n", s.Corrupt)
	}
}
