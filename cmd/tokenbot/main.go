// Command tokenbot runs the voice-channel token economy bot and its
// administration commands.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/tokenbot/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
