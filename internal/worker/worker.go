// Package worker implements the single-shot render attempt that runs inside
// the isolated capture-worker process: locate the component, instantiate it,
// obtain its editor surface, let it settle, snapshot, scale, encode and write
// the preview atomically. Every stage is bounded by its own budget and every
// failure carries both a machine-readable stderr token and a distinct exit
// code, so the supervisor has two independent ways to classify the outcome.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/coolmanlume/aubrowser/internal/models"
	"github.com/coolmanlume/aubrowser/internal/render"

	xdraw "golang.org/x/image/draw"
)

// Stage budgets. The supervisor's hard ceiling must stay strictly above
// InstantiateTimeout + ViewTimeout + SettleDelay so a wedged stage still gets
// to fail through its own graceful path before the process is killed.
const (
	DefaultInstantiateTimeout = 10 * time.Second
	DefaultViewTimeout        = 8 * time.Second
	DefaultSettleDelay        = 4 * time.Second
	DefaultJPEGQuality        = 85
)

// Request is one capture order.
type Request struct {
	Descriptor models.ComponentDescriptor
	OutputPath string
	MaxWidth   int
}

// Result is the final written preview's pixel dimensions.
type Result struct {
	Width  int
	Height int
}

// Failure carries the stderr token (may be empty for locate failures, where
// the exit code alone identifies the stage), the process exit code, and the
// underlying error for logging.
type Failure struct {
	Token    string
	ExitCode int
	Err      error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return f.Err.Error()
	}
	return f.Token
}

// Worker drives one capture attempt against a render host. Timeout fields
// exist so tests do not sit through the production budgets.
type Worker struct {
	Host               render.Host
	InstantiateTimeout time.Duration
	ViewTimeout        time.Duration
	SettleDelay        time.Duration
	Quality            int
}

func New(host render.Host) *Worker {
	return &Worker{
		Host:               host,
		InstantiateTimeout: DefaultInstantiateTimeout,
		ViewTimeout:        DefaultViewTimeout,
		SettleDelay:        DefaultSettleDelay,
		Quality:            DefaultJPEGQuality,
	}
}

// errStageTimeout marks a stage that ran past its budget, as opposed to one
// that failed on its own.
var errStageTimeout = errors.New("stage timed out")

// Capture runs the full staged state machine. Exactly one of Result/Failure
// is meaningful: Failure is nil on success.
func (w *Worker) Capture(ctx context.Context, req Request) (Result, *Failure) {
	// Locate: fails fast, no timeout of its own.
	ref, err := w.Host.Locate(req.Descriptor)
	if err != nil {
		return Result{}, &Failure{ExitCode: models.ExitNotFound, Err: err}
	}

	// Instantiate.
	var comp render.Component
	err = runStage(ctx, w.InstantiateTimeout, func(sctx context.Context) error {
		var serr error
		comp, serr = ref.Instantiate(sctx)
		return serr
	})
	switch {
	case errors.Is(err, errStageTimeout):
		return Result{}, &Failure{Token: models.TokenInstantiationTimeout, ExitCode: models.ExitInstantiationTimeout, Err: err}
	case err != nil:
		return Result{}, &Failure{Token: models.TokenInstantiationFailed, ExitCode: models.ExitInstantiationFailed, Err: err}
	}

	// Request the visual surface.
	var surface render.Surface
	err = runStage(ctx, w.ViewTimeout, func(sctx context.Context) error {
		var serr error
		surface, serr = comp.View(sctx)
		return serr
	})
	switch {
	case errors.Is(err, errStageTimeout):
		return Result{}, &Failure{Token: models.TokenRenderTimeout, ExitCode: models.ExitRenderTimeout, Err: err}
	case err != nil:
		return Result{}, &Failure{Token: models.TokenNoView, ExitCode: models.ExitNoView, Err: err}
	}

	// Settle: fixed wait so the surface can self-size. No failure path; we
	// proceed with whatever size resulted.
	select {
	case <-time.After(w.SettleDelay):
	case <-ctx.Done():
		return Result{}, &Failure{ExitCode: models.ExitCaptureFailed, Err: ctx.Err()}
	}

	// Reject degenerate surfaces.
	width, height := surface.Bounds()
	if width < 1 || height < 1 {
		return Result{}, &Failure{
			Token:    models.TokenZeroSize,
			ExitCode: models.ExitCaptureFailed,
			Err:      fmt.Errorf("surface measured %dx%d", width, height),
		}
	}

	// Capture pixels: compositor snapshot preferred, raster cache when the
	// compositor comes back empty.
	img, err := surface.Snapshot()
	if err != nil || img == nil || img.Bounds().Empty() {
		img, err = surface.CachedRaster()
		if err != nil || img == nil || img.Bounds().Empty() {
			if err == nil {
				err = render.ErrEmptySnapshot
			}
			return Result{}, &Failure{Token: models.TokenBitmap, ExitCode: models.ExitCaptureFailed, Err: err}
		}
	}

	// Scale, preserving aspect; never upscale.
	scaled := Scale(img, req.MaxWidth)
	b := scaled.Bounds()

	// Encode.
	var buf bytes.Buffer
	quality := w.Quality
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: quality}); err != nil {
		return Result{}, &Failure{Token: models.TokenJpegEncoding, ExitCode: models.ExitEncodeFailed, Err: err}
	}

	// Write atomically: temp file in the target directory, then rename.
	if err := writeAtomic(req.OutputPath, buf.Bytes()); err != nil {
		return Result{}, &Failure{
			Token:    models.TokenWritePrefix + err.Error(),
			ExitCode: models.ExitWriteFailed,
			Err:      err,
		}
	}

	return Result{Width: b.Dx(), Height: b.Dy()}, nil
}

// runStage executes fn with its own deadline. A stage that outlives its
// budget yields errStageTimeout even if fn later returns; the abandoned
// goroutine's result is discarded.
func runStage(ctx context.Context, budget time.Duration, fn func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		if err != nil && sctx.Err() == context.DeadlineExceeded {
			return errStageTimeout
		}
		return err
	case <-sctx.Done():
		if sctx.Err() == context.DeadlineExceeded {
			return errStageTimeout
		}
		return sctx.Err()
	}
}

// TargetSize applies the sizing policy: scale factor is bounded by the target
// max against the measured width and never exceeds 1.0; the height is rounded
// and capped at the target max.
func TargetSize(width, height, maxWidth int) (int, int) {
	scale := math.Min(float64(maxWidth)/float64(width), 1.0)
	tw := int(math.Round(float64(width) * scale))
	th := int(math.Round(float64(height) * scale))
	if th > maxWidth {
		th = maxWidth
	}
	return tw, th
}

// Scale resamples img down to the target size, or returns it unchanged when
// no scaling is needed.
func Scale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	tw, th := TargetSize(b.Dx(), b.Dy(), maxWidth)
	if tw == b.Dx() && th == b.Dy() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating %s: %v", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("temp file: %v", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %v", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing %s: %v", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("renaming to %s: %v", path, err)
	}
	return nil
}
