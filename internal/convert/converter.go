// Package convert turns a PDF into page images and reduces them to a single
// image or an ordered list of images.
package convert

import (
	"fmt"
	"image"
	"math"

	"pdf2img/internal/domain"
	"pdf2img/internal/imageio"
	"pdf2img/internal/logging"
	"pdf2img/internal/render"
	"pdf2img/internal/scratch"
)

const scratchPrefix = "hpi"

// Converter renders documents with an engine acquired per call.
type Converter struct {
	Loader render.Loader
	Codec  imageio.Codec
}

// New creates a converter.
func New(loader render.Loader, codec imageio.Codec) *Converter {
	return &Converter{Loader: loader, Codec: codec}
}

// Convert renders every page of the PDF at pdfPath. All files it creates
// belong to arena; the caller releases the arena once the outcome has been
// consumed. A failure on any page aborts the whole conversion.
func (c *Converter) Convert(arena *scratch.Arena, pdfPath string, params domain.ConvertParams) (Outcome, error) {
	engine, err := c.Loader.Load()
	if err != nil {
		return Outcome{}, fail(KindLibraryLoad, err)
	}
	defer func() {
		if cerr := engine.Close(); cerr != nil {
			logging.Warn("Failed to close render engine", "error", cerr)
		}
	}()

	doc, err := engine.OpenDocument(pdfPath)
	if err != nil {
		return Outcome{}, fail(KindDocumentLoad, err)
	}
	defer func() {
		if cerr := doc.Close(); cerr != nil {
			logging.Warn("Failed to close PDF document", "error", cerr)
		}
	}()

	count, err := doc.PageCount()
	if err != nil {
		return Outcome{}, fail(KindDocumentLoad, err)
	}

	pages := make([]Artifact, 0, count)
	for i := 0; i < count; i++ {
		art, err := c.convertPage(arena, doc, i, params)
		if err != nil {
			return Outcome{}, err
		}
		pages = append(pages, art)
	}

	logging.Debug("Rendered PDF pages", "pages", len(pages), "format", params.Format.String(), "dpi", params.DPI)

	switch {
	case len(pages) == 0:
		return Outcome{Shape: Empty}, nil
	case params.Archive:
		return Outcome{Shape: Multiple, Artifacts: pages}, nil
	case len(pages) == 1:
		return Outcome{Shape: Single, Artifacts: pages}, nil
	}

	combined, err := c.Combine(arena, pages, params.Format)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Shape: Single, Artifacts: []Artifact{combined}}, nil
}

// TargetWidth is the pixel width of a page widthPt points wide at dpi.
func TargetWidth(widthPt float64, dpi uint32) int {
	return int(math.Round(widthPt / render.PointsPerInch * float64(dpi)))
}

func (c *Converter) convertPage(arena *scratch.Arena, doc render.Document, index int, params domain.ConvertParams) (Artifact, error) {
	widthPt, _, err := doc.PageSize(index)
	if err != nil {
		return Artifact{}, failPage(KindPageRender, index, err)
	}

	img, err := doc.RenderPage(index, TargetWidth(widthPt, params.DPI))
	if err != nil {
		return Artifact{}, failPage(KindPageRender, index, err)
	}

	f, err := c.writeImage(arena, fmt.Sprintf("%d-%s", index, scratchPrefix), img, params.Format)
	if err != nil {
		if ce, ok := err.(*Error); ok {
			ce.Page = index
		}
		return Artifact{}, err
	}
	return Artifact{Index: index, File: f}, nil
}

// writeImage encodes img into a new scratch file.
func (c *Converter) writeImage(arena *scratch.Arena, prefix string, img image.Image, format domain.OutputFormat) (*scratch.File, error) {
	f, err := arena.Create(prefix, format.Extension())
	if err != nil {
		return nil, fail(KindTemporaryStorage, err)
	}
	if err := c.Codec.Save(f.Path(), img, format); err != nil {
		return nil, fail(KindImageEncode, err)
	}
	return f, nil
}
