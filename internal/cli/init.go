package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/kilupskalvis/wikimirror/internal/config"
	"github.com/kilupskalvis/wikimirror/internal/remote"
	"github.com/kilupskalvis/wikimirror/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new mirror",
	Long: `Initialize a new mirror in the current directory.
This creates a .wikimirror directory holding the configuration, the local
store and the media directory.`,
	Run: runInit,
}

var (
	initURL       string
	initUserAgent string
	initSkipCheck bool
)

func init() {
	initCmd.Flags().StringVar(&initURL, "url", "", "Remote api.php URL (required)")
	initCmd.Flags().StringVar(&initUserAgent, "user-agent", "", "User-Agent sent to the remote")
	initCmd.Flags().BoolVar(&initSkipCheck, "skip-check", false, "Do not contact the remote")
	_ = initCmd.MarkFlagRequired("url")
}

func runInit(cmd *cobra.Command, args []string) {
	// Check if already initialized
	if _, err := config.FindRoot(); err == nil {
		exitError("wikimirror directory already exists")
	}

	fmt.Printf("Initializing mirror...\n")
	fmt.Printf("Remote API: %s\n", initURL)

	cwd, err := os.Getwd()
	if err != nil {
		exitError("%v", err)
	}

	if !initSkipCheck {
		fmt.Printf("Connecting to remote...\n")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		client := remote.NewHTTPClient(initURL, initUserAgent, "")
		if _, err := client.Query(ctx, remote.TagParams(1)); err != nil {
			exitError("failed to reach remote: %v", err)
		}
	}

	cfg, err := config.Initialize(cwd, initURL)
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}
	if initUserAgent != "" {
		cfg.UserAgent = initUserAgent
		if err := cfg.Save(); err != nil {
			fmt.Printf("Warning: Could not save user agent to config: %v\n", err)
		}
	}

	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		exitError("failed to create store: %v", err)
	}
	defer st.Close()

	if err := st.Initialize(); err != nil {
		exitError("failed to initialize store: %v", err)
	}

	color.New(color.FgGreen).Printf("\nInitialized empty mirror in %s/\n", config.MirrorDir)
	fmt.Printf("Mirroring %s\n", initURL)
	fmt.Printf("\nRun 'wikimirror sync revisions' to start mirroring.\n")
}
