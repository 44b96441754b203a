package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/coolmanlume/aubrowser/index"
	"github.com/coolmanlume/aubrowser/internal/database"
	"github.com/coolmanlume/aubrowser/internal/enumerator"
	"github.com/coolmanlume/aubrowser/internal/helpers"
	"github.com/coolmanlume/aubrowser/internal/scanner"
	"github.com/coolmanlume/aubrowser/internal/store"
	"github.com/coolmanlume/aubrowser/internal/supervisor"
)

// pipeline bundles everything a capture session needs; Close releases it.
type pipeline struct {
	db      *database.DB
	store   *store.Store
	idx     bleve.Index
	scanner *scanner.Scanner
}

func (p *pipeline) Close() {
	if p.idx != nil {
		if err := p.idx.Close(); err != nil {
			log.WithError(err).Warn("Error closing search index")
		}
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			log.WithError(err).Warn("Error closing database")
		}
	}
}

// openPipeline wires database, store, search index, supervisor and scanner
// from the effective config plus scan flag overrides.
func openPipeline() (*pipeline, error) {
	concurrency := globalConfig.Concurrency
	if v := viper.GetInt("scan.concurrency"); v > 0 {
		concurrency = v
	}
	maxWidth := globalConfig.MaxWidth
	if v := viper.GetInt("scan.max_width"); v > 0 {
		maxWidth = v
	}
	ceilingSec := globalConfig.CeilingSec
	if v := viper.GetInt("scan.ceiling"); v > 0 {
		ceilingSec = v
	}

	if !helpers.CheckAndMakeDir(globalConfig.PreviewPath) {
		return nil, fmt.Errorf("cannot create preview directory %s", globalConfig.PreviewPath)
	}

	db, err := database.Open(globalConfig.DatabasePath)
	if err != nil {
		return nil, err
	}

	idx, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening search index: %w", err)
	}

	sup, err := supervisor.New(cfgFile)
	if err != nil {
		_ = idx.Close()
		_ = db.Close()
		return nil, err
	}

	st := store.New(db)
	sc := scanner.New(st, sup, index.NewIndexer(idx), scanner.Options{
		Concurrency:     concurrency,
		MaxWidth:        maxWidth,
		Ceiling:         time.Duration(ceilingSec) * time.Second,
		ArtifactVersion: globalConfig.ArtifactVersion,
		PreviewDir:      globalConfig.PreviewPath,
	})

	return &pipeline{db: db, store: st, idx: idx, scanner: sc}, nil
}

// runScan drives an incremental (or --full) capture session to completion.
func runScan(cmd *cobra.Command, args []string) {
	p, err := openPipeline()
	if err != nil {
		log.WithError(err).Fatal("Failed to set up capture pipeline")
	}
	defer p.Close()

	candidates := enumerator.Enumerate(globalConfig.PluginDirs)
	if len(candidates) == 0 {
		log.Warn("No components found; nothing to capture.")
		return
	}

	full := viper.GetBool("scan.full")
	if full {
		err = p.scanner.StartFull(candidates)
	} else {
		err = p.scanner.StartIncremental(candidates)
	}
	if err != nil {
		log.WithError(err).Fatal("Failed to start scan")
	}

	watchSession(p.scanner, "Scan")
}

// watchSession renders live progress until the session drains, handling
// Ctrl-C as a cooperative cancel, then prints a summary.
func watchSession(sc *scanner.Scanner, label string) {
	noProgress := globalConfig.NoProgress || viper.GetBool("scan.no_progress")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cancelled := make(chan struct{})
	go func() {
		if _, ok := <-sigCh; !ok {
			return
		}
		log.Warn("Interrupt received, cancelling scan (in-flight captures will still resolve)...")
		sc.Cancel()
		close(cancelled)
	}()

	var writer *uilive.Writer
	if !noProgress {
		writer = uilive.New()
		writer.Start()
	}

	var last scanner.Progress
	for {
		prog := sc.Progress()
		if prog.Running {
			last = prog
		}
		if writer != nil {
			fmt.Fprintf(writer, "%s: %d/%d done, %d failed, %d in flight\n",
				label, prog.Completed, prog.Total, prog.Failed, len(prog.InFlight))
			if len(prog.InFlight) > 0 {
				fmt.Fprintf(writer.Newline(), "  capturing: %s\n", strings.Join(prog.InFlight, ", "))
			}
		}
		if !prog.Running {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	sc.Wait()

	if writer != nil {
		writer.Stop()
	}

	final := sc.Progress()
	wasCancelled := false
	select {
	case <-cancelled:
		wasCancelled = true
	default:
	}
	if wasCancelled {
		// Progress reset to idle; report the last snapshot we saw.
		final = last
		fmt.Printf("%s cancelled after %d of %d items.\n", label, final.Completed, final.Total)
		return
	}

	fmt.Println("----- Capture Summary -----")
	fmt.Printf(" Items Queued:   %d\n", final.Total)
	fmt.Printf(" Completed:      %d\n", final.Completed)
	fmt.Printf(" Failed:         %d\n", final.Failed)
	fmt.Printf(" Succeeded:      %d\n", final.Completed-final.Failed)
	fmt.Println("---------------------------")
	if final.Failed > 0 {
		log.Warnf("%d captures failed; affected components show no preview until a rescan.", final.Failed)
	}
}
