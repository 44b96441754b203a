package cmd

import (
	"github.com/spf13/viper"
)

func init() {
	// scanCmd is defined in scan.go
	rootCmd.AddCommand(scanCmd)

	// --- Flags for Scan Command ---
	scanCmd.Flags().Bool("full", false, "Re-capture every component, ignoring existing previews.")
	scanCmd.Flags().IntP("concurrency", "c", 0, "Number of concurrent capture workers (0 uses config value).")
	scanCmd.Flags().Int("max-width", 0, "Maximum preview width in pixels (0 uses config value).")
	scanCmd.Flags().Int("ceiling", 0, "Hard per-attempt wall-clock ceiling in seconds (0 uses config value).")
	scanCmd.Flags().Bool("no-progress", false, "Disable the live progress display.")

	// Bind flags to Viper
	viper.BindPFlag("scan.full", scanCmd.Flags().Lookup("full"))
	viper.BindPFlag("scan.concurrency", scanCmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("scan.max_width", scanCmd.Flags().Lookup("max-width"))
	viper.BindPFlag("scan.ceiling", scanCmd.Flags().Lookup("ceiling"))
	viper.BindPFlag("scan.no_progress", scanCmd.Flags().Lookup("no-progress"))
}
