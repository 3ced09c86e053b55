package cli

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect or clear saved resume cursors",
}

var cursorShowCmd = &cobra.Command{
	Use:   "show [<content-type>]",
	Short: "Show saved cursors",
	Long: `Show the saved resume cursor of a content type, or of all of them.
The token can be passed to the matching sync command with --cursor.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runCursorShow,
}

var cursorClearCmd = &cobra.Command{
	Use:   "clear <content-type>",
	Short: "Forget a saved cursor so the next run starts over",
	Args:  cobra.ExactArgs(1),
	Run:   runCursorClear,
}

var cursorVerbose bool

func init() {
	cursorShowCmd.Flags().BoolVarP(&cursorVerbose, "verbose", "v", false, "Print the decoded cursor")
	cursorCmd.AddCommand(cursorShowCmd)
	cursorCmd.AddCommand(cursorClearCmd)
}

func checkContentType(name string) {
	if !slices.Contains(contentTypes, name) {
		exitError("unknown content type %q (one of %v)", name, contentTypes)
	}
}

func runCursorShow(cmd *cobra.Command, args []string) {
	types := contentTypes
	if len(args) == 1 {
		checkContentType(args[0])
		types = args
	}

	c := initContext(cmd)
	defer c.Close()

	yellow := color.New(color.FgYellow)
	shown := 0
	for _, ct := range types {
		cur, err := c.Store.LoadCursor(ct)
		if err != nil {
			c.fail("%v", err)
		}
		if cur == nil {
			continue
		}
		token, err := cur.Encode()
		if err != nil {
			c.fail("%v", err)
		}
		shown++
		yellow.Printf("%s", ct)
		fmt.Printf(" (saved %s)\n  %s\n", cur.UpdatedAt.Format("2006-01-02 15:04:05"), token)
		if cursorVerbose {
			data, _ := json.MarshalIndent(cur, "  ", "  ")
			fmt.Printf("  %s\n", data)
		}
	}
	if shown == 0 {
		fmt.Println("No saved cursors.")
	}
}

func runCursorClear(cmd *cobra.Command, args []string) {
	checkContentType(args[0])

	c := initContext(cmd)
	defer c.Close()

	if err := c.Store.ClearCursor(args[0]); err != nil {
		c.fail("%v", err)
	}
	fmt.Printf("Cleared %s cursor\n", args[0])
}
