package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/coolmanlume/aubrowser/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// BundleExt is the directory suffix marking a component bundle.
const BundleExt = ".auplug"

const (
	manifestFile   = "component.toml"
	editorRaster   = "editor.png"
	cachedRaster   = ".cache/raster.png"
	defaultWidth   = 600
	defaultHeight  = 420
	titleBarHeight = 28
)

// Manifest is the component.toml inside a bundle. Identity codes are written
// as four-character codes ("aufx") or numbers. EditorWidth/EditorHeight, when
// present, override the measured surface size; an explicit 0 declares a
// degenerate surface.
type Manifest struct {
	Name         string `toml:"Name"`
	Version      string `toml:"Version"`
	Type         string `toml:"Type"`
	Subtype      string `toml:"Subtype"`
	Manufacturer string `toml:"Manufacturer"`
	Headless     bool   `toml:"Headless"`
	EditorWidth  *int   `toml:"EditorWidth"`
	EditorHeight *int   `toml:"EditorHeight"`
}

// Descriptor parses the manifest's identity codes.
func (m Manifest) Descriptor() (models.ComponentDescriptor, error) {
	t, err := models.ParseCode(m.Type)
	if err != nil {
		return models.ComponentDescriptor{}, fmt.Errorf("manifest Type: %w", err)
	}
	s, err := models.ParseCode(m.Subtype)
	if err != nil {
		return models.ComponentDescriptor{}, fmt.Errorf("manifest Subtype: %w", err)
	}
	mf, err := models.ParseCode(m.Manufacturer)
	if err != nil {
		return models.ComponentDescriptor{}, fmt.Errorf("manifest Manufacturer: %w", err)
	}
	return models.ComponentDescriptor{Type: t, Subtype: s, Manufacturer: mf}, nil
}

// ReadManifest loads and validates a bundle's component.toml.
func ReadManifest(bundlePath string) (Manifest, error) {
	var m Manifest
	path := filepath.Join(bundlePath, manifestFile)
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return Manifest{}, fmt.Errorf("error reading manifest %s: %w", path, err)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(bundlePath), BundleExt)
	}
	if _, err := m.Descriptor(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// BundleHost locates components as *.auplug bundle directories under a fixed
// set of plugin directories.
type BundleHost struct {
	dirs []string
}

func NewBundleHost(dirs []string) *BundleHost {
	return &BundleHost{dirs: dirs}
}

// Locate walks the plugin directories for a bundle whose manifest matches all
// three identity codes. Fails fast with ErrComponentNotFound.
func (h *BundleHost) Locate(desc models.ComponentDescriptor) (Ref, error) {
	for _, dir := range h.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			log.WithError(err).Debugf("Skipping unreadable plugin directory %s", dir)
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || !strings.HasSuffix(entry.Name(), BundleExt) {
				continue
			}
			bundlePath := filepath.Join(dir, entry.Name())
			m, err := ReadManifest(bundlePath)
			if err != nil {
				log.WithError(err).Debugf("Skipping bundle %s", bundlePath)
				continue
			}
			d, _ := m.Descriptor()
			if d == desc {
				return &bundleRef{path: bundlePath}, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, desc)
}

type bundleRef struct {
	path string
}

// Instantiate re-reads the manifest, which is the bundle equivalent of
// opening the component.
func (r *bundleRef) Instantiate(ctx context.Context) (Component, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := ReadManifest(r.path)
	if err != nil {
		return nil, fmt.Errorf("instantiating %s: %w", r.path, err)
	}
	return &bundleComponent{path: r.path, manifest: m}, nil
}

type bundleComponent struct {
	path     string
	manifest Manifest
}

func (c *bundleComponent) Name() string {
	return c.manifest.Name
}

// View builds the surface. Size precedence: manifest override, then the
// editor raster's own dimensions, then the synthesized panel default.
func (c *bundleComponent) View(ctx context.Context) (Surface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.manifest.Headless {
		return nil, fmt.Errorf("%w: %s", ErrNoView, c.manifest.Name)
	}

	s := &bundleSurface{
		name:       c.manifest.Name,
		editorPath: filepath.Join(c.path, editorRaster),
		cachePath:  filepath.Join(c.path, cachedRaster),
		width:      defaultWidth,
		height:     defaultHeight,
	}
	if _, err := os.Stat(s.editorPath); err != nil {
		s.editorPath = ""
	}
	if _, err := os.Stat(s.cachePath); err != nil {
		s.cachePath = ""
	}
	if s.editorPath != "" {
		f, err := os.Open(s.editorPath)
		if err == nil {
			if cfg, err := png.DecodeConfig(f); err == nil {
				s.width, s.height = cfg.Width, cfg.Height
			}
			_ = f.Close()
		}
	}
	if c.manifest.EditorWidth != nil {
		s.width = *c.manifest.EditorWidth
	}
	if c.manifest.EditorHeight != nil {
		s.height = *c.manifest.EditorHeight
	}
	return s, nil
}

type bundleSurface struct {
	name       string
	editorPath string
	cachePath  string
	width      int
	height     int
}

func (s *bundleSurface) Bounds() (int, int) {
	return s.width, s.height
}

// Snapshot is the compositor path: the bundle's live editor raster. Bundles
// without one report an empty snapshot so capture falls through to the cache.
func (s *bundleSurface) Snapshot() (image.Image, error) {
	if s.editorPath == "" {
		return nil, ErrEmptySnapshot
	}
	return decodeRaster(s.editorPath)
}

// CachedRaster is the fallback path: the bundle's cached raster if present,
// otherwise a synthesized editor panel.
func (s *bundleSurface) CachedRaster() (image.Image, error) {
	if s.cachePath != "" {
		return decodeRaster(s.cachePath)
	}
	if s.width < 1 || s.height < 1 {
		return nil, ErrEmptySnapshot
	}
	return synthesizePanel(s.name, s.width, s.height), nil
}

func decodeRaster(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening raster %s: %w", path, err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding raster %s: %w", path, err)
	}
	b := img.Bounds()
	if b.Dx() < 1 || b.Dy() < 1 {
		return nil, ErrEmptySnapshot
	}
	return img, nil
}

// synthesizePanel draws a generic editor panel for bundles carrying no raster
// at all: flat body, title bar, accent stripe keyed off the component name so
// previews stay visually distinguishable.
func synthesizePanel(name string, w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	var seed uint8
	for _, c := range name {
		seed += uint8(c)
	}
	body := color.RGBA{R: 38, G: 40, B: 46, A: 255}
	bar := color.RGBA{R: 54, G: 57, B: 63, A: 255}
	accent := color.RGBA{R: 96 + seed%128, G: 72 + (seed*3)%128, B: 160, A: 255}

	draw.Draw(img, img.Bounds(), &image.Uniform{C: body}, image.Point{}, draw.Src)
	barH := titleBarHeight
	if barH > h {
		barH = h
	}
	draw.Draw(img, image.Rect(0, 0, w, barH), &image.Uniform{C: bar}, image.Point{}, draw.Src)
	stripe := image.Rect(0, barH, w, min(barH+4, h))
	draw.Draw(img, stripe, &image.Uniform{C: accent}, image.Point{}, draw.Src)
	return img
}
