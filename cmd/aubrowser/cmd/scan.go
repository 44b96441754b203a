package cmd

import (
	"github.com/spf13/cobra"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Capture previews for components missing a current one",
	Long: `Enumerates the configured plugin directories, removes components that are
no longer installed, and captures a preview for every component that has no
preview yet or whose preview predates the current artifact version.

Examples:
  # Incremental scan with the configured concurrency
  aubrowser scan

  # Re-capture everything regardless of existing previews
  aubrowser scan --full

  # Crank up the parallelism and skip the live progress display
  aubrowser scan -c 8 --no-progress`,
	Run: runScan,
}
