package cmd

import (
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/coolmanlume/aubrowser/internal/database"
	"github.com/coolmanlume/aubrowser/internal/store"
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolP("dry-run", "n", false, "Report orphans without removing them")
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove orphaned preview files from the preview directory",
	Long: `Scans the configured preview directory and removes files that no artifact
row in the database refers to. Temporary files left behind by interrupted
writes are removed as well.`,
	Run: runClean,
}

func runClean(cmd *cobra.Command, args []string) {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	previewPath := globalConfig.PreviewPath

	if previewPath == "" {
		log.Error("PreviewPath is not configured. Cannot determine where to clean.")
		os.Exit(1)
	}
	info, err := os.Stat(previewPath)
	if os.IsNotExist(err) {
		log.Errorf("Preview directory does not exist: %s", previewPath)
		os.Exit(1)
	}
	if err != nil {
		log.Errorf("Error accessing preview directory %q: %v", previewPath, err)
		os.Exit(1)
	}
	if !info.IsDir() {
		log.Errorf("PreviewPath is not a directory: %s", previewPath)
		os.Exit(1)
	}

	db, err := database.Open(globalConfig.DatabasePath)
	if err != nil {
		log.WithError(err).Fatalf("Failed to open database at %s", globalConfig.DatabasePath)
	}
	defer db.Close()
	st := store.New(db)

	artifacts, err := st.ListArtifacts()
	if err != nil {
		log.WithError(err).Fatal("Failed to list artifacts")
	}
	referenced := make(map[string]struct{}, len(artifacts))
	for _, art := range artifacts {
		if abs, err := filepath.Abs(art.Path); err == nil {
			referenced[abs] = struct{}{}
		}
	}

	log.Infof("Scanning for orphaned previews in %s...", previewPath)

	var orphansRemoved, tmpRemoved, filesFailed int64

	walkErr := filepath.Walk(previewPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Warnf("Error accessing path %q during scan: %v", path, err)
			return nil
		}
		if info.IsDir() {
			return nil // Skip directories
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			log.Warnf("Could not resolve path %q: %v", path, err)
			return nil
		}

		isTmp := strings.HasSuffix(info.Name(), ".tmp")
		_, isReferenced := referenced[abs]
		if isReferenced && !isTmp {
			return nil
		}

		fileType := "orphan"
		if isTmp {
			fileType = ".tmp"
		}

		if dryRun {
			log.Infof("Would remove %s file: %s", fileType, path)
			if isTmp {
				tmpRemoved++
			} else {
				orphansRemoved++
			}
			return nil
		}

		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				log.Warnf("Attempted to remove %s file %q, but it was already gone.", fileType, path)
			} else {
				log.Errorf("Failed to remove %s file %q: %v", fileType, path, err)
				filesFailed++
			}
			return nil
		}
		log.Infof("Removed %s file: %s", fileType, path)
		if isTmp {
			tmpRemoved++
		} else {
			orphansRemoved++
		}
		return nil
	})

	if walkErr != nil {
		log.Errorf("Error during directory walk of %q: %v", previewPath, walkErr)
	}

	verb := "Removed"
	if dryRun {
		verb = "Would remove"
	}
	log.Infof("Clean complete. %s %d orphan(s), %d .tmp file(s).", verb, orphansRemoved, tmpRemoved)
	if filesFailed > 0 {
		log.Errorf("Failed to remove %d file(s).", filesFailed)
	}

	if filesFailed > 0 || walkErr != nil {
		os.Exit(1)
	}
}
