// Command wikimirror mirrors a remote wiki into a local store.
package main

import (
	"os"

	"github.com/kilupskalvis/wikimirror/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
