package worker

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coolmanlume/aubrowser/internal/models"
	"github.com/coolmanlume/aubrowser/internal/render"
)

func TestTargetSize(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		maxWidth      int
		wantW, wantH  int
	}{
		{"Wide surface scaled down", 2000, 1000, 680, 680, 340},
		{"Smaller than max untouched", 300, 200, 680, 300, 200},
		{"Exactly max untouched", 680, 420, 680, 680, 420},
		{"Never upscaled", 100, 100, 680, 100, 100},
		{"Height rounded", 1000, 333, 680, 680, 226},
		{"Tall surface height capped", 100, 5000, 680, 100, 680},
		{"Square at max", 680, 680, 680, 680, 680},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotW, gotH := TargetSize(tt.width, tt.height, tt.maxWidth)
			if gotW != tt.wantW || gotH != tt.wantH {
				t.Errorf("TargetSize(%d, %d, %d) = (%d, %d), want (%d, %d)",
					tt.width, tt.height, tt.maxWidth, gotW, gotH, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestScaleReturnsInputWhenNoResizeNeeded(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 300, 200))
	got := Scale(img, 680)
	if got != image.Image(img) {
		t.Error("Scale resampled an image already within bounds")
	}
}

func TestScaleResamplesWideImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2000, 1000))
	got := Scale(img, 680)
	b := got.Bounds()
	if b.Dx() != 680 || b.Dy() != 340 {
		t.Errorf("Scale produced %dx%d, want 680x340", b.Dx(), b.Dy())
	}
}

// --- fakes -------------------------------------------------------------

type fakeHost struct {
	locateErr error
	ref       *fakeRef
}

func (h *fakeHost) Locate(models.ComponentDescriptor) (render.Ref, error) {
	if h.locateErr != nil {
		return nil, h.locateErr
	}
	return h.ref, nil
}

type fakeRef struct {
	instErr   error
	instBlock bool
	comp      *fakeComponent
}

func (r *fakeRef) Instantiate(ctx context.Context) (render.Component, error) {
	if r.instBlock {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.instErr != nil {
		return nil, r.instErr
	}
	return r.comp, nil
}

type fakeComponent struct {
	viewErr   error
	viewBlock bool
	surface   *fakeSurface
}

func (c *fakeComponent) Name() string { return "fake" }

func (c *fakeComponent) View(ctx context.Context) (render.Surface, error) {
	if c.viewBlock {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.viewErr != nil {
		return nil, c.viewErr
	}
	return c.surface, nil
}

type fakeSurface struct {
	width, height int
	snapImg       image.Image
	snapErr       error
	rasterImg     image.Image
	rasterErr     error
}

func (s *fakeSurface) Bounds() (int, int) { return s.width, s.height }

func (s *fakeSurface) Snapshot() (image.Image, error) { return s.snapImg, s.snapErr }

func (s *fakeSurface) CachedRaster() (image.Image, error) { return s.rasterImg, s.rasterErr }

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

// fastWorker returns a worker with millisecond budgets so timeout paths do not
// sit through production values.
func fastWorker(host render.Host) *Worker {
	w := New(host)
	w.InstantiateTimeout = 50 * time.Millisecond
	w.ViewTimeout = 50 * time.Millisecond
	w.SettleDelay = time.Millisecond
	return w
}

func captureRequest(dir string) Request {
	return Request{
		Descriptor: models.ComponentDescriptor{Type: 0x61756678, Subtype: 0x64656c79, Manufacturer: 0x61636d65},
		OutputPath: filepath.Join(dir, "preview.jpg"),
		MaxWidth:   680,
	}
}

// --- staged failure paths ----------------------------------------------

func TestCaptureLocateFailure(t *testing.T) {
	w := fastWorker(&fakeHost{locateErr: render.ErrComponentNotFound})

	_, failure := w.Capture(context.Background(), captureRequest(t.TempDir()))
	if failure == nil {
		t.Fatal("expected failure, got success")
	}
	if failure.ExitCode != models.ExitNotFound {
		t.Errorf("ExitCode = %d, want %d", failure.ExitCode, models.ExitNotFound)
	}
	// Locate failures carry no token; the exit code alone classifies them.
	if failure.Token != "" {
		t.Errorf("Token = %q, want empty", failure.Token)
	}
}

func TestCaptureInstantiationTimeout(t *testing.T) {
	w := fastWorker(&fakeHost{ref: &fakeRef{instBlock: true}})

	_, failure := w.Capture(context.Background(), captureRequest(t.TempDir()))
	if failure == nil {
		t.Fatal("expected failure, got success")
	}
	if failure.Token != models.TokenInstantiationTimeout {
		t.Errorf("Token = %q, want %q", failure.Token, models.TokenInstantiationTimeout)
	}
	if failure.ExitCode != models.ExitInstantiationTimeout {
		t.Errorf("ExitCode = %d, want %d", failure.ExitCode, models.ExitInstantiationTimeout)
	}
}

func TestCaptureInstantiationFailed(t *testing.T) {
	w := fastWorker(&fakeHost{ref: &fakeRef{instErr: errors.New("init exploded")}})

	_, failure := w.Capture(context.Background(), captureRequest(t.TempDir()))
	if failure == nil {
		t.Fatal("expected failure, got success")
	}
	if failure.Token != models.TokenInstantiationFailed || failure.ExitCode != models.ExitInstantiationFailed {
		t.Errorf("got (%q, %d), want (%q, %d)",
			failure.Token, failure.ExitCode, models.TokenInstantiationFailed, models.ExitInstantiationFailed)
	}
}

func TestCaptureViewTimeout(t *testing.T) {
	w := fastWorker(&fakeHost{ref: &fakeRef{comp: &fakeComponent{viewBlock: true}}})

	_, failure := w.Capture(context.Background(), captureRequest(t.TempDir()))
	if failure == nil {
		t.Fatal("expected failure, got success")
	}
	if failure.Token != models.TokenRenderTimeout || failure.ExitCode != models.ExitRenderTimeout {
		t.Errorf("got (%q, %d), want (%q, %d)",
			failure.Token, failure.ExitCode, models.TokenRenderTimeout, models.ExitRenderTimeout)
	}
}

func TestCaptureNoView(t *testing.T) {
	w := fastWorker(&fakeHost{ref: &fakeRef{comp: &fakeComponent{viewErr: render.ErrNoView}}})

	_, failure := w.Capture(context.Background(), captureRequest(t.TempDir()))
	if failure == nil {
		t.Fatal("expected failure, got success")
	}
	if failure.Token != models.TokenNoView || failure.ExitCode != models.ExitNoView {
		t.Errorf("got (%q, %d), want (%q, %d)",
			failure.Token, failure.ExitCode, models.TokenNoView, models.ExitNoView)
	}
}

func TestCaptureZeroSizeSurface(t *testing.T) {
	surf := &fakeSurface{width: 0, height: 420}
	w := fastWorker(&fakeHost{ref: &fakeRef{comp: &fakeComponent{surface: surf}}})

	_, failure := w.Capture(context.Background(), captureRequest(t.TempDir()))
	if failure == nil {
		t.Fatal("expected failure, got success")
	}
	if failure.Token != models.TokenZeroSize || failure.ExitCode != models.ExitCaptureFailed {
		t.Errorf("got (%q, %d), want (%q, %d)",
			failure.Token, failure.ExitCode, models.TokenZeroSize, models.ExitCaptureFailed)
	}
}

func TestCaptureBitmapFailureWhenBothPathsEmpty(t *testing.T) {
	surf := &fakeSurface{
		width: 600, height: 420,
		snapErr:   render.ErrEmptySnapshot,
		rasterErr: render.ErrEmptySnapshot,
	}
	w := fastWorker(&fakeHost{ref: &fakeRef{comp: &fakeComponent{surface: surf}}})

	_, failure := w.Capture(context.Background(), captureRequest(t.TempDir()))
	if failure == nil {
		t.Fatal("expected failure, got success")
	}
	if failure.Token != models.TokenBitmap || failure.ExitCode != models.ExitCaptureFailed {
		t.Errorf("got (%q, %d), want (%q, %d)",
			failure.Token, failure.ExitCode, models.TokenBitmap, models.ExitCaptureFailed)
	}
}

func TestCaptureFallsBackToCachedRaster(t *testing.T) {
	surf := &fakeSurface{
		width: 600, height: 420,
		snapErr:   render.ErrEmptySnapshot,
		rasterImg: testImage(600, 420),
	}
	w := fastWorker(&fakeHost{ref: &fakeRef{comp: &fakeComponent{surface: surf}}})

	dir := t.TempDir()
	result, failure := w.Capture(context.Background(), captureRequest(dir))
	if failure != nil {
		t.Fatalf("Capture failed: %v", failure)
	}
	if result.Width != 600 || result.Height != 420 {
		t.Errorf("result = %dx%d, want 600x420", result.Width, result.Height)
	}
}

func TestCaptureWriteFailure(t *testing.T) {
	surf := &fakeSurface{width: 600, height: 420, snapImg: testImage(600, 420)}
	w := fastWorker(&fakeHost{ref: &fakeRef{comp: &fakeComponent{surface: surf}}})

	// Point the output inside a plain file so MkdirAll fails.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	req := captureRequest(dir)
	req.OutputPath = filepath.Join(blocker, "sub", "preview.jpg")

	_, failure := w.Capture(context.Background(), req)
	if failure == nil {
		t.Fatal("expected failure, got success")
	}
	if failure.ExitCode != models.ExitWriteFailed {
		t.Errorf("ExitCode = %d, want %d", failure.ExitCode, models.ExitWriteFailed)
	}
	if reason, ok := models.ReasonForToken(failure.Token); !ok || reason != models.ReasonWriteFailed {
		t.Errorf("Token %q did not classify as write_failed", failure.Token)
	}
}

func TestCaptureSuccessWritesScaledJPEG(t *testing.T) {
	surf := &fakeSurface{width: 2000, height: 1000, snapImg: testImage(2000, 1000)}
	w := fastWorker(&fakeHost{ref: &fakeRef{comp: &fakeComponent{surface: surf}}})

	dir := t.TempDir()
	req := captureRequest(dir)
	result, failure := w.Capture(context.Background(), req)
	if failure != nil {
		t.Fatalf("Capture failed: %v", failure)
	}
	if result.Width != 680 || result.Height != 340 {
		t.Errorf("result = %dx%d, want 680x340", result.Width, result.Height)
	}

	f, err := os.Open(req.OutputPath)
	if err != nil {
		t.Fatalf("preview not written: %v", err)
	}
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	if err != nil {
		t.Fatalf("output is not a decodable JPEG: %v", err)
	}
	if cfg.Width != 680 || cfg.Height != 340 {
		t.Errorf("written JPEG is %dx%d, want 680x340", cfg.Width, cfg.Height)
	}

	// The atomic write must leave no temp files behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("output directory holds %v, want only the preview", names)
	}
}
