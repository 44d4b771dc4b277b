package render

import (
	"fmt"
	"image"
	"regexp"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
)

// MuPDFLoader renders through MuPDF via go-fitz.
type MuPDFLoader struct{}

func (l *MuPDFLoader) Load() (Engine, error) {
	return mupdfEngine{}, nil
}

// Name identifies the engine in error details.
func (l *MuPDFLoader) Name() string { return "MuPDF" }

type mupdfEngine struct{}

func (mupdfEngine) OpenDocument(path string) (Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	return &mupdfDocument{doc: doc, sizes: map[int][2]float64{}}, nil
}

func (mupdfEngine) Close() error { return nil }

type mupdfDocument struct {
	doc   *fitz.Document
	sizes map[int][2]float64
}

func (d *mupdfDocument) PageCount() (int, error) {
	return d.doc.NumPage(), nil
}

// svgViewBox matches the page box the MuPDF SVG device writes in points.
var svgViewBox = regexp.MustCompile(`viewBox="0 0 ([0-9.eE+-]+) ([0-9.eE+-]+)"`)

// PageSize reports the page box in points. fitz.Bound truncates to whole
// points, so the exact size is read from the page's SVG header and Bound is
// only the fallback.
func (d *mupdfDocument) PageSize(index int) (float64, float64, error) {
	if index < 0 || index >= d.doc.NumPage() {
		return 0, 0, ErrNoPage
	}
	if s, ok := d.sizes[index]; ok {
		return s[0], s[1], nil
	}

	w, h, ok := d.svgSize(index)
	if !ok {
		b, err := d.doc.Bound(index)
		if err != nil {
			return 0, 0, fmt.Errorf("unable to get size of page %d: %w", index, err)
		}
		w, h = float64(b.Dx()), float64(b.Dy())
	}
	d.sizes[index] = [2]float64{w, h}
	return w, h, nil
}

func (d *mupdfDocument) svgSize(index int) (float64, float64, bool) {
	svg, err := d.doc.SVG(index)
	if err != nil {
		return 0, 0, false
	}
	return parseSVGSize(svg)
}

func parseSVGSize(svg string) (float64, float64, bool) {
	m := svgViewBox.FindStringSubmatch(svg)
	if m == nil {
		return 0, 0, false
	}
	w, werr := strconv.ParseFloat(m[1], 64)
	h, herr := strconv.ParseFloat(m[2], 64)
	if werr != nil || herr != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// RenderPage rasterizes the page at exactly widthPx pixels. MuPDF rounds the
// pixmap box outward, so an off-by-one result is resampled.
func (d *mupdfDocument) RenderPage(index int, widthPx int) (image.Image, error) {
	w, _, err := d.PageSize(index)
	if err != nil {
		return nil, err
	}
	if w <= 0 || widthPx <= 0 {
		return nil, fmt.Errorf("unable to render page %d at width %d", index, widthPx)
	}

	dpi := float64(widthPx) * PointsPerInch / w
	img, err := d.doc.ImageDPI(index, dpi)
	if err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", index, err)
	}
	if img.Bounds().Dx() != widthPx {
		return imaging.Resize(img, widthPx, 0, imaging.Lanczos), nil
	}
	return img, nil
}

func (d *mupdfDocument) Close() error {
	return d.doc.Close()
}
