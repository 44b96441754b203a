package cmd

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	index "github.com/coolmanlume/aubrowser/index"
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search QUERY...",
	Short: "Search the catalog index for captured components",
	Long: `Searches the Bleve index built during scans. The query uses Bleve's
query string syntax, so field searches work too:

  aubrowser search reverb
  aubrowser search 'namespace:aufx name:delay*'`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	query := strings.Join(args, " ")

	bleveIndex, err := bleve.Open(globalConfig.BleveIndexPath)
	if err != nil {
		if err == bleve.ErrorIndexPathDoesNotExist {
			log.Errorf("Index not found at %s. Run a scan first to create it.", globalConfig.BleveIndexPath)
		} else {
			log.WithError(err).Errorf("Failed to open index at %s", globalConfig.BleveIndexPath)
		}
		return
	}
	defer func() {
		if err := bleveIndex.Close(); err != nil {
			log.WithError(err).Warn("Error closing index")
		}
	}()

	log.Debugf("Performing search with query: %s", query)

	searchResults, err := index.SearchIndex(bleveIndex, query)
	if err != nil {
		log.WithError(err).Error("Error performing search")
		return
	}

	if searchResults.Total == 0 {
		fmt.Println("No results found matching your query.")
		return
	}

	fmt.Println("--- Search Results ---")
	for i, hit := range searchResults.Hits {
		fmt.Printf("[%d] %s (Score: %.2f)\n", i+1, hit.ID, hit.Score)
		for field, value := range hit.Fields {
			fmt.Printf("  %s: %v\n", field, value)
		}
		fmt.Println("---")
	}
	log.Infof("Search finished. Hits: %d, Total: %d, Took: %s",
		len(searchResults.Hits), searchResults.Total, searchResults.Took)
}
