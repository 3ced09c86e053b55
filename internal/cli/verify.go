package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/kilupskalvis/wikimirror/internal/core"
	"github.com/kilupskalvis/wikimirror/internal/models"
	"github.com/kilupskalvis/wikimirror/internal/remote"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the mirror against the remote and repair it",
	Long: `Walk the remote's revision digests and compare each with the mirror.

Missing revisions whose parent is mirrored are backfilled. Zero-length local
revisions whose checksum differs are refetched. Everything else is reported.
With --dry-run nothing is written.

Examples:
  wikimirror verify
  wikimirror verify --dry-run --report
  wikimirror verify --start 2024-01-01T00:00:00Z --end 2024-02-01T00:00:00Z`,
	Args: cobra.NoArgs,
	Run:  runVerify,
}

func init() {
	addScopeFlags(verifyCmd)
	verifyCmd.Flags().Bool("report", false, "Record findings in the findings database")
}

func runVerify(cmd *cobra.Command, args []string) {
	c := initFullContext(cmd)
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	scope := buildScope(c, cmd, contentVerify)
	sink, rep := openReport(c, cmd)

	identity := core.NewIdentityReconciler(c.Store, c.Client, c.Logger)
	conflicts := core.NewConflictResolver(c.Store, sink, c.Logger)
	v := core.NewVerifier(c.Store, c.Client, identity, conflicts, core.NewTagApplier(c.Store), core.VerifyOptions{
		DryRun: c.Config.DryRun,
		Sink:   sink,
		Logger: c.Logger,
	})

	params := remote.RevisionParams(scope, c.Config.PageSize, false, true)
	stats := runPaged(ctx, c, scope, params, remote.Digests("allrevisions"), core.DigestAttrs, v.Check)

	printPageStats("Verified revisions", stats, c.Config.DryRun)
	printVerifyResult(v.Result())
	if n, err := c.Store.CountRevisions(); err == nil {
		fmt.Printf("  mirrored:   %d revision(s)\n", n)
	}

	if rep != nil {
		counts, err := rep.CountByKind(context.Background(), rep.RunID())
		if err != nil {
			c.Logger.Warn("failed to read findings", "error", err)
			return
		}
		fmt.Printf("\nFindings recorded in %s (run %s)\n", c.Config.ReportPath(), rep.RunID())
		kinds := make([]string, 0, len(counts))
		for k := range counts {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Printf("  %-18s %d\n", k, counts[models.FindingKind(k)])
		}
	}
}

func printVerifyResult(r core.VerifyResult) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	fmt.Printf("  checked:    %d\n", r.Checked)
	yellow.Printf("  missing:    %d\n", r.Missing)
	yellow.Printf("  mismatched: %d\n", r.Mismatched)
	green.Printf("  repaired:   %d\n", r.Repaired)
	if r.Unfixable > 0 {
		red.Printf("  unfixable:  %d\n", r.Unfixable)
	}
	if r.Failed > 0 {
		red.Printf("  failed:     %d\n", r.Failed)
	}
}
