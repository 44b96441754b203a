package cmd

import (
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/coolmanlume/aubrowser/internal/enumerator"
	"github.com/coolmanlume/aubrowser/internal/models"
)

// rescanCmd represents the rescan command
var rescanCmd = &cobra.Command{
	Use:   "rescan KEY [KEY...]",
	Short: "Force re-capture of specific components",
	Long: `Forces the named components through the capture pipeline regardless of
their existing previews. Components outside the given set are left untouched;
in particular, nothing is marked as removed.

Component keys look like "aufx_1a2b3c4d"; use 'aubrowser db view' to list them.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runRescan,
}

func init() {
	rootCmd.AddCommand(rescanCmd)
}

func runRescan(cmd *cobra.Command, args []string) {
	p, err := openPipeline()
	if err != nil {
		log.WithError(err).Fatal("Failed to set up capture pipeline")
	}
	defer p.Close()

	wanted := make(map[string]struct{}, len(args))
	for _, key := range args {
		wanted[strings.TrimSpace(key)] = struct{}{}
	}

	var subset []models.CandidateItem
	for _, item := range enumerator.Enumerate(globalConfig.PluginDirs) {
		if _, ok := wanted[item.Key]; ok {
			subset = append(subset, item)
			delete(wanted, item.Key)
		}
	}
	if len(wanted) > 0 {
		missing := make([]string, 0, len(wanted))
		for key := range wanted {
			missing = append(missing, key)
		}
		log.Fatalf("Unknown component key(s): %s", strings.Join(missing, ", "))
	}

	if err := p.scanner.Rescan(subset); err != nil {
		log.WithError(err).Fatal("Failed to start rescan")
	}
	watchSession(p.scanner, "Rescan")
}
