package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/kilupskalvis/wikimirror/internal/core"
	"github.com/kilupskalvis/wikimirror/internal/filestore"
	"github.com/kilupskalvis/wikimirror/internal/models"
	"github.com/kilupskalvis/wikimirror/internal/remote"
	"github.com/spf13/cobra"
)

// Content types, also the keys of saved cursors.
const (
	contentRevisions    = "revisions"
	contentDeleted      = "deleted"
	contentFiles        = "files"
	contentFileHistory  = "filehistory"
	contentRestrictions = "restrictions"
	contentTags         = "tags"
	contentLogs         = "logs"
	contentVerify       = "verify"
)

var contentTypes = []string{
	contentRevisions, contentDeleted, contentFiles, contentFileHistory,
	contentRestrictions, contentTags, contentLogs, contentVerify,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror content from the remote",
	Long: `Mirror one content type from the remote.

Every page of results is checkpointed. An interrupted run prints a cursor
token; pass it back with --cursor, or use --resume to continue from the
last saved position.

Examples:
  wikimirror sync tags
  wikimirror sync revisions --namespace 0 --start 2024-01-01T00:00:00Z
  wikimirror sync revisions --resume
  wikimirror sync files --history
  wikimirror sync logs --start 2024-01-01T00:00:00Z`,
}

var syncRevisionsCmd = &cobra.Command{
	Use:   "revisions",
	Short: "Mirror live revisions",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runRevisionSync(cmd, contentRevisions, false)
	},
}

var syncDeletedCmd = &cobra.Command{
	Use:   "deleted",
	Short: "Mirror deleted revisions into the archive",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runRevisionSync(cmd, contentDeleted, true)
	},
}

var syncFilesCmd = &cobra.Command{
	Use:   "files",
	Short: "Mirror uploaded files",
	Long: `Mirror uploaded files into the media directory. Every download is
verified against the remote checksum; a file that keeps failing is reported
and skipped. With --history every archived version is mirrored too.`,
	Args: cobra.NoArgs,
	Run:  runSyncFiles,
}

var syncRestrictionsCmd = &cobra.Command{
	Use:   "restrictions",
	Short: "Mirror page protections onto mirrored pages",
	Args:  cobra.NoArgs,
	Run:   runSyncRestrictions,
}

var syncTagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Mirror change tag definitions",
	Args:  cobra.NoArgs,
	Run:   runSyncTags,
}

var syncLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Mirror log entries and their change tags",
	Long: `Mirror the remote's log entries. Change tags on each entry are attached
to the local log row; run sync tags first to carry their definitions.`,
	Args: cobra.NoArgs,
	Run:  runSyncLogs,
}

func init() {
	for _, cmd := range []*cobra.Command{syncRevisionsCmd, syncDeletedCmd, syncFilesCmd, syncRestrictionsCmd, syncTagsCmd, syncLogsCmd} {
		addScopeFlags(cmd)
		syncCmd.AddCommand(cmd)
	}
	syncRevisionsCmd.Flags().Bool("report", false, "Record page conflicts in the findings database")
	syncFilesCmd.Flags().Bool("history", false, "Mirror archived file versions too")
}

func runRevisionSync(cmd *cobra.Command, content string, deleted bool) {
	c := initFullContext(cmd)
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	scope := buildScope(c, cmd, content)
	sink, _ := openReport(c, cmd)

	identity := core.NewIdentityReconciler(c.Store, c.Client, c.Logger)
	conflicts := core.NewConflictResolver(c.Store, sink, c.Logger)
	tags := core.NewTagApplier(c.Store)
	imp := core.NewRevisionImporter(c.Store, identity, conflicts, tags, core.RevisionImporterOptions{
		Deleted: deleted,
		DryRun:  c.Config.DryRun,
		Logger:  c.Logger,
	})

	listKey := "allrevisions"
	if deleted {
		listKey = "alldeletedrevisions"
	}
	params := remote.RevisionParams(scope, c.Config.PageSize, deleted, false)
	stats := runPaged(ctx, c, scope, params, remote.Revisions(listKey), core.RevisionAttrs, imp.Process)

	printPageStats("Synced "+content, stats, c.Config.DryRun)
	printImportStats(imp.Stats())
	fmt.Printf("  actors:   %d created, %d renamed, %d lookups\n", identity.Created(), identity.Renames(), identity.Lookups())
	if n := conflicts.Relocated(); n > 0 {
		fmt.Printf("  relocated pages: %d\n", n)
	}
	fmt.Printf("  tags applied: %d\n", tags.Applied())
}

func runSyncFiles(cmd *cobra.Command, args []string) {
	c := initFullContext(cmd)
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	history, _ := cmd.Flags().GetBool("history")
	content := contentFiles
	if history {
		content = contentFileHistory
	}
	scope := buildScope(c, cmd, content)

	layout, err := filestore.NewFSStore(c.Config.MediaPath())
	if err != nil {
		c.fail("failed to open media directory: %v", err)
	}
	opts := c.Config.TransferOptions()
	opts.Logger = c.Logger
	transfer := core.NewFileTransfer(c.Client, opts)
	identity := core.NewIdentityReconciler(c.Store, c.Client, c.Logger)
	imp := core.NewFileImporter(c.Store, layout, transfer, identity, c.Config.DryRun, c.Logger)

	params := remote.FileParams(scope, c.Config.PageSize, history)
	stats := runPaged[models.FileVersion](ctx, c, scope, params, remote.FileVersions, core.FileAttrs, imp.Process)

	printPageStats("Synced "+content, stats, c.Config.DryRun)
	printImportStats(imp.Stats())
	fmt.Printf("  downloaded: %d file(s), %s\n", transfer.Downloads(), humanize.Bytes(uint64(transfer.Bytes())))
}

func runSyncRestrictions(cmd *cobra.Command, args []string) {
	c := initFullContext(cmd)
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	scope := buildScope(c, cmd, contentRestrictions)
	imp := core.NewRestrictionImporter(c.Store, c.Config.DryRun)

	params := remote.ProtectionParams(scope, c.Config.PageSize)
	stats := runPaged[remote.PageProtection](ctx, c, scope, params, remote.Protections, core.ProtectionAttrs, imp.Process)

	printPageStats("Synced "+contentRestrictions, stats, c.Config.DryRun)
	printImportStats(imp.Stats())
}

func runSyncTags(cmd *cobra.Command, args []string) {
	c := initFullContext(cmd)
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	scope := buildScope(c, cmd, contentTags)
	imp := core.NewTagDefinitionImporter(c.Store, c.Config.DryRun)

	attrs := func(t models.ChangeTag) []any { return []any{"tag", t.Name} }
	stats := runPaged[models.ChangeTag](ctx, c, scope, remote.TagParams(c.Config.PageSize), remote.Tags, attrs, imp.Process)

	printPageStats("Synced "+contentTags, stats, c.Config.DryRun)
	printImportStats(imp.Stats())

	local, err := c.Store.ListTags()
	if err != nil {
		c.Logger.Warn("failed to list tags", "error", err)
		return
	}
	defined := 0
	for _, t := range local {
		if t.Defined {
			defined++
		}
	}
	fmt.Printf("  local tags: %d (%d defined)\n", len(local), defined)
}

func runSyncLogs(cmd *cobra.Command, args []string) {
	c := initFullContext(cmd)
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	scope := buildScope(c, cmd, contentLogs)
	identity := core.NewIdentityReconciler(c.Store, c.Client, c.Logger)
	tags := core.NewTagApplier(c.Store)
	imp := core.NewLogImporter(c.Store, identity, tags, c.Config.DryRun)

	params := remote.LogEventParams(scope, c.Config.PageSize)
	stats := runPaged[remote.LogEvent](ctx, c, scope, params, remote.LogEvents, core.LogAttrs, imp.Process)

	printPageStats("Synced "+contentLogs, stats, c.Config.DryRun)
	printImportStats(imp.Stats())
	fmt.Printf("  actors:   %d created, %d renamed, %d lookups\n", identity.Created(), identity.Renames(), identity.Lookups())
	fmt.Printf("  tags applied: %d\n", tags.Applied())
}
