// Command catsync reconciles catalog change events into search index
// records.
package main

import (
	"os"

	"github.com/roach88/catsync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
