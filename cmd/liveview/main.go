// Command liveview maintains live, filtered views over a local task
// collection and edits the tasks in it.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/liveview/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
