// Package enumerator discovers candidate components from the configured
// plugin directories. It is the pipeline's external candidate source: the
// scan orchestrator never walks the filesystem itself.
package enumerator

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/coolmanlume/aubrowser/internal/models"
	"github.com/coolmanlume/aubrowser/internal/render"

	log "github.com/sirupsen/logrus"
)

// Enumerate lists every component bundle under the given directories as a
// candidate item: sorted by display name, deduplicated by item key, excluding
// bundles whose manifest is missing or unreadable (the backing resource is
// effectively gone).
func Enumerate(pluginDirs []string) []models.CandidateItem {
	seen := make(map[string]struct{})
	var items []models.CandidateItem

	for _, dir := range pluginDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			log.WithError(err).Warnf("Skipping unreadable plugin directory %s", dir)
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || !strings.HasSuffix(entry.Name(), render.BundleExt) {
				continue
			}
			bundlePath := filepath.Join(dir, entry.Name())
			m, err := render.ReadManifest(bundlePath)
			if err != nil {
				log.WithError(err).Debugf("Skipping bundle %s", bundlePath)
				continue
			}
			desc, err := m.Descriptor()
			if err != nil {
				log.WithError(err).Debugf("Skipping bundle %s", bundlePath)
				continue
			}
			key := desc.Key()
			if _, dup := seen[key]; dup {
				log.Debugf("Duplicate component %s at %s, keeping first occurrence", key, bundlePath)
				continue
			}
			seen[key] = struct{}{}
			items = append(items, models.CandidateItem{
				Key:        key,
				Name:       m.Name,
				Version:    m.Version,
				BundlePath: bundlePath,
				Descriptor: desc,
			})
		}
	}

	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	log.Infof("Enumerated %d components from %d plugin directories", len(items), len(pluginDirs))
	return items
}
