// Package render is the boundary to the PDF rasterization engine.
//
// A Loader acquires a fresh Engine for every conversion; the engine opens
// documents and renders single pages to pixel buffers at a target width.
// The height follows from the page's aspect ratio.
package render

import (
	"errors"
	"fmt"
	"image"

	"pdf2img/internal/config"
)

// PointsPerInch converts PDF user space units to inches.
const PointsPerInch = 72.0

// ErrNoPage is returned for page indexes outside the document.
var ErrNoPage = errors.New("page index out of range")

// Loader acquires an engine instance.
type Loader interface {
	Load() (Engine, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func() (Engine, error)

func (f LoaderFunc) Load() (Engine, error) { return f() }

// Named is implemented by loaders that can tell which engine they start.
type Named interface {
	Name() string
}

// DefaultEngineName is reported for loaders that are not Named.
const DefaultEngineName = "PDFium"

// EngineName returns the display name of the engine behind l.
func EngineName(l Loader) string {
	if n, ok := l.(Named); ok && n.Name() != "" {
		return n.Name()
	}
	return DefaultEngineName
}

// Engine opens documents. Close releases the engine and must be called once
// the conversion is finished.
type Engine interface {
	OpenDocument(path string) (Document, error)
	Close() error
}

// Document is an opened PDF.
type Document interface {
	PageCount() (int, error)
	// PageSize returns the page dimensions in points.
	PageSize(index int) (width, height float64, err error)
	// RenderPage rasterizes the page at the given pixel width.
	RenderPage(index int, widthPx int) (image.Image, error)
	Close() error
}

// NewLoader returns the loader for the configured engine.
func NewLoader(cfg config.Config) (Loader, error) {
	switch cfg.Render.Engine {
	case config.EnginePDFium, "":
		return &PDFiumLoader{LibraryPath: cfg.Render.LibraryPath}, nil
	case config.EngineMuPDF:
		return &MuPDFLoader{}, nil
	default:
		return nil, fmt.Errorf("unknown render engine %q", cfg.Render.Engine)
	}
}
