// Package scanner is the scan orchestrator: it diffs the enumerated candidate
// set against the result store, schedules bounded-parallel supervised capture
// attempts over the due set, classifies and persists every outcome, and
// exposes a consistent live progress snapshot with cooperative cancellation.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/coolmanlume/aubrowser/internal/gate"
	"github.com/coolmanlume/aubrowser/internal/helpers"
	"github.com/coolmanlume/aubrowser/internal/models"
	"github.com/coolmanlume/aubrowser/internal/supervisor"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrScanActive is returned by Start/Resume while a scan is running.
	ErrScanActive = errors.New("a scan is already running")

	// ErrNothingToResume is returned by Resume without a remembered
	// candidate list from an earlier start.
	ErrNothingToResume = errors.New("no candidate list to resume from")
)

// Store is the result-store surface the orchestrator needs.
type Store interface {
	UpsertCandidates([]models.CandidateItem) error
	MarkAbsent(keep map[string]struct{}) error
	DueSet(items []models.CandidateItem, currentVersion int) ([]models.CandidateItem, error)
	WriteAttempt(models.AttemptRecord) error
	UpsertArtifact(models.Artifact) error
}

// Runner runs one supervised capture attempt to a terminal outcome.
type Runner interface {
	Run(desc models.ComponentDescriptor, outputPath string, maxWidth int, ceiling time.Duration) supervisor.Outcome
}

// Indexer receives successful captures for full-text search. Optional.
type Indexer interface {
	IndexCapture(item models.CandidateItem, art models.Artifact) error
}

// Options carries the per-session capture settings. ArtifactVersion is read
// once at session start; bumping it between sessions forces re-capture.
type Options struct {
	Concurrency     int
	MaxWidth        int
	Ceiling         time.Duration
	ArtifactVersion int
	PreviewDir      string
}

// Progress is a consistent point-in-time snapshot: an item is never counted
// both in flight and completed, and never neither.
type Progress struct {
	Total     int
	Completed int
	Failed    int
	InFlight  []string
	Running   bool
	SessionID string
}

// Scanner orchestrates capture sessions. All control operations
// (Start/Resume/Rescan/Cancel) are serialized; progress is readable from any
// goroutine.
type Scanner struct {
	store   Store
	runner  Runner
	indexer Indexer
	opts    Options

	ctl sync.Mutex // serializes control operations

	mu         sync.Mutex // guards everything below
	running    bool
	cancelled  bool
	cancel     context.CancelFunc
	done       chan struct{}
	remembered []models.CandidateItem
	sessionID  string
	total      int
	completed  int
	failed     int
	inFlight   map[string]struct{}
}

func New(store Store, runner Runner, indexer Indexer, opts Options) *Scanner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Scanner{
		store:    store,
		runner:   runner,
		indexer:  indexer,
		opts:     opts,
		inFlight: make(map[string]struct{}),
	}
}

// StartIncremental upserts the candidates, drops items no longer present, and
// captures only the due set (no live artifact, or one below the current
// version). No-op if a scan is already running.
func (s *Scanner) StartIncremental(candidates []models.CandidateItem) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.isRunning() {
		return ErrScanActive
	}
	return s.startLocked(candidates, false, true, true)
}

// StartFull cancels any running scan, then captures every candidate
// regardless of existing artifacts.
func (s *Scanner) StartFull(candidates []models.CandidateItem) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.cancelRunningLocked()
	return s.startLocked(candidates, true, true, true)
}

// Resume re-runs the incremental logic over the last remembered candidate
// list without re-enumerating. No-op unless idle with a remembered list.
func (s *Scanner) Resume() error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.isRunning() {
		return ErrScanActive
	}
	s.mu.Lock()
	remembered := s.remembered
	s.mu.Unlock()
	if remembered == nil {
		return ErrNothingToResume
	}
	return s.startLocked(remembered, false, true, false)
}

// Rescan cancels any running scan and forces the given subset through the
// pipeline. Items outside the subset are untouched: no removal or marking.
func (s *Scanner) Rescan(subset []models.CandidateItem) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.cancelRunningLocked()
	return s.startLocked(subset, true, false, false)
}

// Cancel signals cooperative cancellation and blocks until the pipeline is
// drained. Spawned workers are not abandoned: each in-flight pair still
// resolves (at worst at the supervisor's ceiling), no new items are admitted,
// and progress resets to idle.
func (s *Scanner) Cancel() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.cancelRunningLocked()
}

// Wait blocks until the current session (if any) has drained.
func (s *Scanner) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Progress returns a consistent snapshot of the current session.
func (s *Scanner) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.inFlight))
	for k := range s.inFlight {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Progress{
		Total:     s.total,
		Completed: s.completed,
		Failed:    s.failed,
		InFlight:  keys,
		Running:   s.running,
		SessionID: s.sessionID,
	}
}

func (s *Scanner) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scanner) cancelRunningLocked() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	log.Info("Cancelling running scan...")
	cancel()
	<-done
}

// startLocked runs the shared session-setup path. Store write failures here
// are logged and swallowed; a stale row just means that item re-captures on a
// later session.
func (s *Scanner) startLocked(candidates []models.CandidateItem, forceAll, mark, remember bool) error {
	if err := s.store.UpsertCandidates(candidates); err != nil {
		log.WithError(err).Warn("Failed to upsert candidates; proceeding with stale rows")
	}
	if mark {
		keep := make(map[string]struct{}, len(candidates))
		for _, c := range candidates {
			keep[c.Key] = struct{}{}
		}
		if err := s.store.MarkAbsent(keep); err != nil {
			log.WithError(err).Warn("Failed to remove absent items; proceeding")
		}
	}

	due := candidates
	if !forceAll {
		var err error
		due, err = s.store.DueSet(candidates, s.opts.ArtifactVersion)
		if err != nil {
			return fmt.Errorf("computing due set: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	sessionID := uuid.NewString()

	s.mu.Lock()
	if remember {
		s.remembered = candidates
	}
	s.running = true
	s.cancelled = false
	s.cancel = cancel
	s.done = done
	s.sessionID = sessionID
	s.total = len(due)
	s.completed = 0
	s.failed = 0
	s.inFlight = make(map[string]struct{})
	s.mu.Unlock()

	log.Infof("Starting capture session %s: %d of %d candidates due", sessionID, len(due), len(candidates))
	go s.run(ctx, due, sessionID, done)
	return nil
}

// run admits due items through the gate in queue order and drains. Cancelled
// sessions stop admitting (checked before acquiring a permit and again before
// spawning) but let in-flight attempts resolve.
func (s *Scanner) run(ctx context.Context, due []models.CandidateItem, sessionID string, done chan struct{}) {
	g := gate.New(s.opts.Concurrency)
	var wg sync.WaitGroup

	for _, item := range due {
		if ctx.Err() != nil {
			break
		}
		if err := g.Acquire(ctx); err != nil {
			break
		}
		if ctx.Err() != nil {
			g.Release()
			break
		}

		s.mu.Lock()
		s.inFlight[item.Key] = struct{}{}
		s.mu.Unlock()

		wg.Add(1)
		go func(it models.CandidateItem) {
			defer wg.Done()
			defer g.Release()
			s.attempt(it, sessionID)
		}(item)
	}

	wg.Wait()

	s.mu.Lock()
	s.running = false
	s.cancel = nil
	if s.cancelled {
		// Cancelled sessions report idle, not a partial tally.
		s.total, s.completed, s.failed = 0, 0, 0
		s.inFlight = make(map[string]struct{})
		s.sessionID = ""
	}
	s.mu.Unlock()
	close(done)
}

// attempt runs one item to a terminal state and persists it. The attempt
// record is written for every attempt regardless of outcome; the artifact row
// only on success; both strictly before the item counts as completed.
func (s *Scanner) attempt(item models.CandidateItem, sessionID string) {
	// The descriptor may have vanished between enumeration and spawn.
	if item.BundlePath != "" {
		if _, err := os.Stat(item.BundlePath); os.IsNotExist(err) {
			log.Warnf("Bundle for %s vanished before capture, skipping", item.Key)
			s.persistAttempt(models.AttemptRecord{
				ItemKey:   item.Key,
				SessionID: sessionID,
				Status:    models.StatusSkipped,
				Reason:    models.ReasonSkipped,
			})
			s.resolve(item.Key, true)
			return
		}
	}

	outputPath := filepath.Join(s.opts.PreviewDir, item.Key+".jpg")
	outcome := s.runner.Run(item.Descriptor, outputPath, s.opts.MaxWidth, s.opts.Ceiling)

	s.persistAttempt(models.AttemptRecord{
		ItemKey:    item.Key,
		SessionID:  sessionID,
		Status:     outcome.Status,
		Reason:     outcome.Reason,
		DurationMs: outcome.Duration.Milliseconds(),
	})

	if outcome.Status == models.StatusSuccess {
		checksum, err := helpers.FileChecksum(outputPath)
		if err != nil {
			log.WithError(err).Warnf("Could not checksum preview for %s", item.Key)
		}
		art := models.Artifact{
			ItemKey:    item.Key,
			Path:       outputPath,
			Width:      outcome.Width,
			Height:     outcome.Height,
			Checksum:   checksum,
			CapturedAt: time.Now().Unix(),
			Version:    s.opts.ArtifactVersion,
		}
		if err := s.store.UpsertArtifact(art); err != nil {
			log.WithError(err).Warnf("Failed to persist artifact for %s", item.Key)
		}
		if s.indexer != nil {
			if err := s.indexer.IndexCapture(item, art); err != nil {
				log.WithError(err).Warnf("Failed to index capture for %s", item.Key)
			}
		}
		log.Debugf("Captured %s at %dx%d in %s", item.Key, outcome.Width, outcome.Height, outcome.Duration.Round(time.Millisecond))
	} else {
		log.Debugf("Capture of %s resolved %s/%s (%s)", item.Key, outcome.Status, outcome.Reason, outcome.Detail)
	}

	s.resolve(item.Key, outcome.Status != models.StatusSuccess)
}

func (s *Scanner) persistAttempt(rec models.AttemptRecord) {
	rec.ID = uuid.NewString()
	rec.Timestamp = time.Now().Unix()
	if err := s.store.WriteAttempt(rec); err != nil {
		log.WithError(err).Warnf("Failed to write attempt record for %s", rec.ItemKey)
	}
}

// resolve moves an item out of in-flight and into the completed tally in one
// step, so samplers never see it counted twice or not at all.
func (s *Scanner) resolve(key string, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
	s.completed++
	if failed {
		s.failed++
	}
}
