package index

import (
	"os"
	"time"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"

	"github.com/coolmanlume/aubrowser/internal/models"
)

const defaultIndexPath = "aubrowser.bleve"

// Item is one indexed component with its latest captured preview, if any.
// All fields are searchable by their lowercase JSON tag names (e.g. query
// '+namespace:aufx' or '+name:reverb').
type Item struct {
	ID          string    `json:"id"` // item key
	Name        string    `json:"name"`
	Namespace   string    `json:"namespace"`
	Version     string    `json:"version"`
	BundlePath  string    `json:"bundlePath,omitempty"`
	PreviewPath string    `json:"previewPath,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	CapturedAt  time.Time `json:"capturedAt,omitempty"`
}

// OpenOrCreateIndex opens an existing bleve index or creates a new one.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	idx, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Infof("Creating new index at: %s", indexPath)
		mapping := bleve.NewIndexMapping()
		idx, err = bleve.New(indexPath, mapping)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		log.Debugf("Opened existing index at: %s", indexPath)
	}
	return idx, nil
}

// Indexer adapts a bleve index to the scanner's capture hook.
type Indexer struct {
	idx bleve.Index
}

func NewIndexer(idx bleve.Index) *Indexer {
	return &Indexer{idx: idx}
}

// IndexCapture adds or updates the component's document after a successful
// capture.
func (i *Indexer) IndexCapture(item models.CandidateItem, art models.Artifact) error {
	return i.idx.Index(item.Key, Item{
		ID:          item.Key,
		Name:        item.Name,
		Namespace:   item.Descriptor.Namespace(),
		Version:     item.Version,
		BundlePath:  item.BundlePath,
		PreviewPath: art.Path,
		Width:       art.Width,
		Height:      art.Height,
		CapturedAt:  time.Unix(art.CapturedAt, 0),
	})
}

// SearchIndex performs a query-string search against the index.
func SearchIndex(idx bleve.Index, query string) (*bleve.SearchResult, error) {
	searchQuery := bleve.NewQueryStringQuery(query)
	searchRequest := bleve.NewSearchRequest(searchQuery)
	searchRequest.Fields = []string{"*"} // Request all stored fields
	return idx.Search(searchRequest)
}

// DeleteIndex removes the index directory. Use with caution!
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Infof("Deleting index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}
