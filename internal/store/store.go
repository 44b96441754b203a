// Package store is the durable result store for the capture pipeline:
// candidate rows recomputed each session, an append-only attempt log, and at
// most one live preview artifact per item.
package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/coolmanlume/aubrowser/internal/database"
	"github.com/coolmanlume/aubrowser/internal/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Key prefixes inside the bitcask namespace. Attempt keys embed the item key
// plus a timestamp and a random suffix so rows append and never collide.
const (
	candidatePrefix = "candidate_"
	artifactPrefix  = "artifact_"
	attemptPrefix   = "attempt_"
)

// Stats is a coarse row-count summary for the status command.
type Stats struct {
	Candidates int
	Artifacts  int
	Attempts   int
}

// Store wraps the database with the pipeline's read/write interface.
type Store struct {
	db *database.DB
}

func New(db *database.DB) *Store {
	return &Store{db: db}
}

// UpsertCandidates writes every candidate, preserving each existing row's
// original first-seen timestamp.
func (s *Store) UpsertCandidates(items []models.CandidateItem) error {
	now := time.Now().Unix()
	for _, item := range items {
		if existing, err := s.GetCandidate(item.Key); err == nil && existing.FirstSeen > 0 {
			item.FirstSeen = existing.FirstSeen
		} else if item.FirstSeen == 0 {
			item.FirstSeen = now
		}
		if err := s.putJSON(candidatePrefix+item.Key, item); err != nil {
			return fmt.Errorf("upserting candidate %s: %w", item.Key, err)
		}
	}
	return nil
}

// MarkAbsent hard-deletes every candidate whose key is not in keep, cascading
// its artifact row and its whole attempt log. Removal never rewrites history
// for items that stay.
func (s *Store) MarkAbsent(keep map[string]struct{}) error {
	var gone []string
	err := s.db.ScanPrefix([]byte(candidatePrefix), func(key, _ []byte) error {
		itemKey := strings.TrimPrefix(string(key), candidatePrefix)
		if _, ok := keep[itemKey]; !ok {
			gone = append(gone, itemKey)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning candidates for removal: %w", err)
	}

	for _, itemKey := range gone {
		log.Debugf("Removing absent item %s (cascade)", itemKey)
		if err := s.db.Delete([]byte(candidatePrefix + itemKey)); err != nil && err != database.ErrNotFound {
			return fmt.Errorf("deleting candidate %s: %w", itemKey, err)
		}
		if err := s.db.Delete([]byte(artifactPrefix + itemKey)); err != nil && err != database.ErrNotFound {
			return fmt.Errorf("deleting artifact %s: %w", itemKey, err)
		}
		var attemptKeys [][]byte
		_ = s.db.ScanPrefix([]byte(attemptPrefix+itemKey+"_"), func(key, _ []byte) error {
			k := make([]byte, len(key))
			copy(k, key)
			attemptKeys = append(attemptKeys, k)
			return nil
		})
		for _, k := range attemptKeys {
			if err := s.db.Delete(k); err != nil && err != database.ErrNotFound {
				return fmt.Errorf("deleting attempt %s: %w", string(k), err)
			}
		}
	}
	return nil
}

// DueSet filters candidates down to those needing a capture: no live artifact,
// or a live artifact below the current artifact version.
func (s *Store) DueSet(items []models.CandidateItem, currentVersion int) ([]models.CandidateItem, error) {
	var due []models.CandidateItem
	for _, item := range items {
		art, err := s.GetArtifact(item.Key)
		if err == database.ErrNotFound {
			due = append(due, item)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading artifact %s: %w", item.Key, err)
		}
		if art.Version < currentVersion {
			due = append(due, item)
		}
	}
	return due, nil
}

// WriteAttempt appends one attempt record. Records are never updated.
func (s *Store) WriteAttempt(rec models.AttemptRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().Unix()
	}
	key := fmt.Sprintf("%s%s_%020d_%s", attemptPrefix, rec.ItemKey, time.Now().UnixNano(), rec.ID[:8])
	if err := s.putJSON(key, rec); err != nil {
		return fmt.Errorf("writing attempt for %s: %w", rec.ItemKey, err)
	}
	return nil
}

// UpsertArtifact replaces the item's live artifact row.
func (s *Store) UpsertArtifact(art models.Artifact) error {
	if err := s.putJSON(artifactPrefix+art.ItemKey, art); err != nil {
		return fmt.Errorf("upserting artifact %s: %w", art.ItemKey, err)
	}
	return nil
}

// GetCandidate returns one candidate row, or database.ErrNotFound.
func (s *Store) GetCandidate(key string) (models.CandidateItem, error) {
	var item models.CandidateItem
	err := s.getJSON(candidatePrefix+key, &item)
	return item, err
}

// GetArtifact returns the item's live artifact, or database.ErrNotFound.
func (s *Store) GetArtifact(itemKey string) (models.Artifact, error) {
	var art models.Artifact
	err := s.getJSON(artifactPrefix+itemKey, &art)
	return art, err
}

// ListCandidates returns all candidate rows sorted by display name.
func (s *Store) ListCandidates() ([]models.CandidateItem, error) {
	var items []models.CandidateItem
	err := s.db.ScanPrefix([]byte(candidatePrefix), func(_, value []byte) error {
		var item models.CandidateItem
		if err := json.Unmarshal(value, &item); err != nil {
			log.WithError(err).Warn("Skipping undecodable candidate row")
			return nil
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}
	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	return items, nil
}

// ListArtifacts returns all live artifact rows.
func (s *Store) ListArtifacts() ([]models.Artifact, error) {
	var arts []models.Artifact
	err := s.db.ScanPrefix([]byte(artifactPrefix), func(_, value []byte) error {
		var art models.Artifact
		if err := json.Unmarshal(value, &art); err != nil {
			log.WithError(err).Warn("Skipping undecodable artifact row")
			return nil
		}
		arts = append(arts, art)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	return arts, nil
}

// ListAttempts returns the item's attempt log, oldest first.
func (s *Store) ListAttempts(itemKey string) ([]models.AttemptRecord, error) {
	var recs []models.AttemptRecord
	err := s.db.ScanPrefix([]byte(attemptPrefix+itemKey+"_"), func(_, value []byte) error {
		var rec models.AttemptRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			log.WithError(err).Warn("Skipping undecodable attempt row")
			return nil
		}
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing attempts for %s: %w", itemKey, err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Timestamp < recs[j].Timestamp })
	return recs, nil
}

// Stats counts rows per prefix.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := s.db.Fold(func(key, _ []byte) error {
		switch {
		case strings.HasPrefix(string(key), candidatePrefix):
			st.Candidates++
		case strings.HasPrefix(string(key), artifactPrefix):
			st.Artifacts++
		case strings.HasPrefix(string(key), attemptPrefix):
			st.Attempts++
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("counting rows: %w", err)
	}
	return st, nil
}

// DeleteArtifact removes a stale artifact row (db verify --fix); the next
// incremental scan then treats the item as due again.
func (s *Store) DeleteArtifact(itemKey string) error {
	err := s.db.Delete([]byte(artifactPrefix + itemKey))
	if err != nil && err != database.ErrNotFound {
		return fmt.Errorf("deleting artifact %s: %w", itemKey, err)
	}
	return nil
}

func (s *Store) putJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", key, err)
	}
	return s.db.Put([]byte(key), data)
}

func (s *Store) getJSON(key string, v interface{}) error {
	data, err := s.db.Get([]byte(key))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
