package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// resumeCmd represents the resume command
var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume an interrupted scan from the stored candidate list",
	Long: `Re-runs the incremental capture logic over the candidate list persisted by
the last scan, without re-walking the plugin directories. Components already
holding a current preview are skipped, so an interrupted scan picks up where
it left off.`,
	Run: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) {
	p, err := openPipeline()
	if err != nil {
		log.WithError(err).Fatal("Failed to set up capture pipeline")
	}
	defer p.Close()

	candidates, err := p.store.ListCandidates()
	if err != nil {
		log.WithError(err).Fatal("Failed to read stored candidate list")
	}
	if len(candidates) == 0 {
		log.Warn("No stored candidates; run 'aubrowser scan' first.")
		return
	}

	if err := p.scanner.StartIncremental(candidates); err != nil {
		log.WithError(err).Fatal("Failed to resume scan")
	}
	watchSession(p.scanner, "Resume")
}
