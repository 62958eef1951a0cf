// Command forge is forgecore's CLI: a self-improving code-generation engine
// exposed as a cobra root command with one subcommand per pipeline entry
// point (classify, generate, run, list, evaluate). Grounded on the
// teacher's cmd/nerd/main.go entry-point shape: a package-level rootCmd,
// global persistent flags (workspace/verbose/timeout), a zap logger built
// in PersistentPreRunE and synced in PersistentPostRun, subcommands split
// across one file each.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
