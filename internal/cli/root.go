// Package cli implements the command-line interface for wikimirror.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/kilupskalvis/wikimirror/internal/config"
	"github.com/kilupskalvis/wikimirror/internal/logging"
	"github.com/kilupskalvis/wikimirror/internal/metrics"
	"github.com/kilupskalvis/wikimirror/internal/remote"
	"github.com/kilupskalvis/wikimirror/internal/report"
	"github.com/kilupskalvis/wikimirror/internal/store"
	"github.com/spf13/cobra"
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config *config.Config
	Store  *store.Store
	Client remote.SourceClient
	Logger *slog.Logger
	RunID  string

	report    *report.Store
	logCloser io.Closer
}

// Close releases resources held by cmdContext and writes the metrics
// textfile when one is configured. It also runs on the failure path, so
// everything opened through the context is closed before exit.
func (c *cmdContext) Close() {
	if c.report != nil {
		if err := c.report.Close(); err != nil {
			c.Logger.Warn("failed to close report", "error", err)
		}
		c.report = nil
	}
	if c.Config != nil && c.Config.MetricsFile != "" {
		if err := metrics.WriteTextfile(c.Config.MetricsFile); err != nil {
			c.Logger.Warn("failed to write metrics", "path", c.Config.MetricsFile, "error", err)
		}
	}
	if c.Store != nil {
		c.Store.Close()
	}
	if c.logCloser != nil {
		c.logCloser.Close()
	}
}

// initContext loads config, sets up logging and opens the store (no client).
func initContext(cmd *cobra.Command) *cmdContext {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		exitError("%v", err)
	}

	runID := uuid.NewString()
	logger, closer := logging.New(cfg.LoggingOptions())
	logger = logger.With("run_id", runID)
	slog.SetDefault(logger)

	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		closer.Close()
		exitError("failed to open store: %v", err)
	}
	if err := st.Initialize(); err != nil {
		st.Close()
		closer.Close()
		exitError("failed to initialize store: %v", err)
	}

	return &cmdContext{Config: cfg, Store: st, Logger: logger, RunID: runID, logCloser: closer}
}

// initFullContext initializes config, store and the remote client
func initFullContext(cmd *cobra.Command) *cmdContext {
	c := initContext(cmd)
	c.Client = newClient(c.Config)
	return c
}

func newClient(cfg *config.Config) remote.SourceClient {
	httpClient := remote.NewHTTPClient(cfg.APIURL, cfg.UserAgent, cfg.Token,
		remote.WithRateLimit(cfg.RequestsPerSecond))
	return remote.NewRetryClient(httpClient, cfg.RetryConfig())
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:   "wikimirror",
	Short: "Mirror a remote wiki into a local store",
	Long: `wikimirror pages through a remote wiki's query API and mirrors revisions,
deleted revisions, files, page restrictions and change tags into a local
store. Runs are resumable, and verify checks the mirror against the remote
and repairs what it can.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (text, json)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(cursorCmd)
	rootCmd.AddCommand(fetchFileCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
