// Package cli implements the prefill command line interface. Each
// subcommand dials the controller, performs its operation, and exits;
// watch is the long-lived one that keeps the progress projection live.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

// stateDirFlag overrides the default ~/.prefill state directory.
var stateDirFlag string

var rootCmd = &cobra.Command{
	Use:   "prefill",
	Short: "Client for the game prefill controller",
	Long: `Prefill keeps a game library warmed ahead of play. It talks to the
prefill controller over a persistent channel, mirrors job progress
locally, and survives disconnects without losing track of what the
controller finished in the background.`,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("prefill version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&stateDirFlag, "state-dir", "", "State directory (default ~/.prefill)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
