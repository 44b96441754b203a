// Package render defines the host boundary the capture worker renders
// against: locating a component by its identity codes, instantiating it, and
// obtaining a visual surface whose pixels can be snapshotted. The pipeline
// only depends on the interfaces here; BundleHost is the production
// implementation backed by component bundles on disk.
package render

import (
	"context"
	"errors"
	"image"

	"github.com/coolmanlume/aubrowser/internal/models"
)

var (
	// ErrComponentNotFound means no registered component matches the
	// descriptor's identity codes.
	ErrComponentNotFound = errors.New("component not found")

	// ErrNoView means the component instantiated but exposes no editor
	// surface (headless component).
	ErrNoView = errors.New("component has no view")

	// ErrEmptySnapshot means the compositor-backed snapshot produced no
	// pixels; callers should fall back to the raster cache.
	ErrEmptySnapshot = errors.New("snapshot returned no pixels")
)

// Host locates components. Locate fails fast; it performs no instantiation.
type Host interface {
	Locate(desc models.ComponentDescriptor) (Ref, error)
}

// Ref is a located-but-not-instantiated component.
type Ref interface {
	// Instantiate opens the component. Untrusted: may block until ctx
	// expires, or fail outright.
	Instantiate(ctx context.Context) (Component, error)
}

// Component is an instantiated component.
type Component interface {
	Name() string
	// View requests the component's editor surface. Untrusted in the same
	// way Instantiate is.
	View(ctx context.Context) (Surface, error)
}

// Surface is a component's visual surface after it has been given time to
// settle and self-size.
type Surface interface {
	// Bounds reports the measured surface size in pixels. Either dimension
	// may be below 1 for degenerate surfaces.
	Bounds() (width, height int)

	// Snapshot captures the surface through the compositor path.
	Snapshot() (image.Image, error)

	// CachedRaster captures the surface from its raster cache; the fallback
	// when Snapshot comes back empty.
	CachedRaster() (image.Image, error)
}
