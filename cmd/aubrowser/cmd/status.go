package cmd

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/coolmanlume/aubrowser/internal/database"
	"github.com/coolmanlume/aubrowser/internal/store"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog statistics and recent capture attempts",
	Run:   runStatus,
}

var statusAttempts int

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().IntVar(&statusAttempts, "attempts", 5, "Number of recent attempts to show per failing component (0 to hide)")
}

func runStatus(cmd *cobra.Command, args []string) {
	db, err := database.Open(globalConfig.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Warn("Error closing database")
		}
	}()
	st := store.New(db)

	stats, err := st.Stats()
	if err != nil {
		log.WithError(err).Fatal("Failed to read store statistics")
	}

	candidates, err := st.ListCandidates()
	if err != nil {
		log.WithError(err).Fatal("Failed to list candidates")
	}
	due, err := st.DueSet(candidates, globalConfig.ArtifactVersion)
	if err != nil {
		log.WithError(err).Fatal("Failed to compute due set")
	}

	fmt.Println("----- Catalog Status -----")
	fmt.Printf(" Components:       %d\n", stats.Candidates)
	fmt.Printf(" Previews:         %d\n", stats.Artifacts)
	fmt.Printf(" Attempt records:  %d\n", stats.Attempts)
	fmt.Printf(" Due for capture:  %d\n", len(due))
	fmt.Printf(" Artifact version: %d\n", globalConfig.ArtifactVersion)
	fmt.Println("--------------------------")

	if statusAttempts <= 0 {
		return
	}
	for _, item := range due {
		attempts, err := st.ListAttempts(item.Key)
		if err != nil || len(attempts) == 0 {
			continue
		}
		if len(attempts) > statusAttempts {
			attempts = attempts[len(attempts)-statusAttempts:]
		}
		fmt.Printf("%s (%s):\n", item.Name, item.Key)
		for _, a := range attempts {
			ts := time.Unix(a.Timestamp, 0).Format("2006-01-02 15:04:05")
			if a.Reason != "" {
				fmt.Printf("  %s  %s (%s)\n", ts, a.Status, a.Reason)
			} else {
				fmt.Printf("  %s  %s\n", ts, a.Status)
			}
		}
	}
}
