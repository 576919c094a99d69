// Command replacer loads partial animation replacer definitions and applies
// them to a scene.
package main

import (
	"fmt"
	"os"

	"github.com/naitro2010/PartialAnimationReplacer/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
