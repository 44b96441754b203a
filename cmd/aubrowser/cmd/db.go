package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/coolmanlume/aubrowser/internal/database"
	"github.com/coolmanlume/aubrowser/internal/helpers"
	"github.com/coolmanlume/aubrowser/internal/store"
)

// dbCmd represents the base command for database operations
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the catalog database",
	Long:  `Perform operations like viewing or verifying entries in the catalog database.`,
	// No Run function for the base db command itself
}

// dbViewCmd represents the command to view database entries
var dbViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View components recorded in the database",
	Long:  `Lists the components and preview artifacts that have been recorded in the database.`,
	Run:   runDbView,
}

// dbVerifyCmd represents the command to verify artifact rows against the filesystem
var dbVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify preview artifacts against the filesystem",
	Long: `Checks that preview files recorded in the database exist at their expected
locations and optionally verifies their checksums. With --fix, artifact rows whose
files are missing or mismatched are removed so the next scan re-captures them.`,
	Run: runDbVerify,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbViewCmd)
	dbCmd.AddCommand(dbVerifyCmd)

	dbVerifyCmd.Flags().Bool("check-hash", true, "Verify file checksums for existing previews")
	dbVerifyCmd.Flags().Bool("fix", false, "Remove artifact rows for missing or mismatched files")
}

func openStore() (*database.DB, *store.Store) {
	if globalConfig.DatabasePath == "" {
		log.Fatal("Database path is not set in the configuration. Please check config file or flags.")
	}
	db, err := database.Open(globalConfig.DatabasePath)
	if err != nil {
		log.WithError(err).Fatalf("Failed to open database at %s", globalConfig.DatabasePath)
	}
	return db, store.New(db)
}

func runDbView(cmd *cobra.Command, args []string) {
	db, st := openStore()
	defer db.Close()

	candidates, err := st.ListCandidates()
	if err != nil {
		log.WithError(err).Fatal("Failed to list candidates")
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Name\tVersion\tNamespace\tKey\tPreview\tCaptured")
	fmt.Fprintln(tw, "----\t-------\t---------\t---\t-------\t--------")

	for _, c := range candidates {
		preview := "-"
		captured := "-"
		art, err := st.GetArtifact(c.Key)
		if err == nil {
			preview = fmt.Sprintf("%dx%d v%d", art.Width, art.Height, art.Version)
			captured = time.Unix(art.CapturedAt, 0).Format("2006-01-02 15:04")
		} else if !errors.Is(err, database.ErrNotFound) {
			log.WithError(err).Warnf("Failed to read artifact for key %s", c.Key)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Name, c.Version, c.Descriptor.Namespace(), c.Key, preview, captured)
	}

	if err := tw.Flush(); err != nil {
		log.WithError(err).Error("Error flushing table writer for db view")
	}
	log.Infof("Displayed %d entries.", len(candidates))
}

func runDbVerify(cmd *cobra.Command, args []string) {
	log.Info("Verifying preview artifacts against filesystem...")
	checkHashFlag, _ := cmd.Flags().GetBool("check-hash")
	fixFlag, _ := cmd.Flags().GetBool("fix")

	db, st := openStore()
	defer db.Close()

	artifacts, err := st.ListArtifacts()
	if err != nil {
		log.WithError(err).Fatal("Failed to list artifacts")
	}

	var foundOk, mismatch, missing, removed int
	for _, art := range artifacts {
		problem := ""

		_, statErr := os.Stat(art.Path)
		switch {
		case statErr == nil:
			if checkHashFlag && art.Checksum != "" {
				sum, hashErr := helpers.FileChecksum(art.Path)
				if hashErr != nil {
					log.WithError(hashErr).Errorf("[ERROR] Could not hash %s", art.Path)
					continue
				}
				if sum != art.Checksum {
					mismatch++
					problem = "Checksum Mismatch"
					log.WithField("path", art.Path).Warn("[MISMATCH] File exists but checksum mismatch.")
				} else {
					foundOk++
					log.WithField("path", art.Path).Debug("[OK] File exists and checksum matches.")
				}
			} else {
				foundOk++
				log.WithField("path", art.Path).Debug("[FOUND] File exists (hash check skipped).")
			}
		case os.IsNotExist(statErr):
			missing++
			problem = "Missing"
			log.WithField("path", art.Path).Error("[MISSING] Preview file not found.")
		default:
			log.WithError(statErr).Errorf("[ERROR] Could not check file status for %s", art.Path)
		}

		if problem != "" && fixFlag {
			if err := st.DeleteArtifact(art.ItemKey); err != nil {
				log.WithError(err).Errorf("Failed to remove artifact row for %s", art.ItemKey)
			} else {
				removed++
				log.Infof("Removed artifact row for %s (%s); next scan will re-capture it.", art.ItemKey, problem)
			}
		}
	}

	log.Infof("Verification Summary: Total=%d, OK=%d, Missing=%d, Mismatch=%d, Removed=%d",
		len(artifacts), foundOk, missing, mismatch, removed)
	if !fixFlag && (missing > 0 || mismatch > 0) {
		log.Info("Run again with --fix to remove stale artifact rows.")
	}
}
