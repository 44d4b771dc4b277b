// Package rendertest provides an in-memory render engine and a minimal PDF
// writer for tests.
package rendertest

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"pdf2img/internal/render"
)

// Page is a fake page size in points.
type Page struct {
	Width  float64
	Height float64
}

// Letter is US Letter in points.
var Letter = Page{Width: 612, Height: 792}

// Palette holds the fill colors of fake pages, cycled by page index.
var Palette = []color.RGBA{
	{R: 220, G: 30, B: 30, A: 255},
	{R: 30, G: 200, B: 30, A: 255},
	{R: 30, G: 30, B: 220, A: 255},
	{R: 240, G: 200, B: 20, A: 255},
}

// ColorOf returns the fill color of the page at index.
func ColorOf(index int) color.RGBA {
	return Palette[index%len(Palette)]
}

// Engine is a fake render.Loader whose documents always have Pages,
// regardless of the file handed to OpenDocument.
type Engine struct {
	Pages []Page

	LoadErr   error
	OpenErr   error
	RenderErr map[int]error

	mu      sync.Mutex
	loads   int
	closes  int
	renders []int
}

// New returns a fake engine with the given pages.
func New(pages ...Page) *Engine {
	return &Engine{Pages: pages}
}

// Load implements render.Loader.
func (e *Engine) Load() (render.Engine, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads++
	if e.LoadErr != nil {
		return nil, e.LoadErr
	}
	return &engine{fake: e}, nil
}

// Loads returns how often Load was called.
func (e *Engine) Loads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads
}

// Closes returns how often an engine instance was closed.
func (e *Engine) Closes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closes
}

// Rendered returns the pixel widths requested from RenderPage, in call order.
func (e *Engine) Rendered() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.renders...)
}

// PixelSize returns the image size RenderPage produces for a page at dpi.
func PixelSize(p Page, dpi uint32) (int, int) {
	w := int(math.Round(p.Width / render.PointsPerInch * float64(dpi)))
	return w, heightFor(p, w)
}

func heightFor(p Page, w int) int {
	return int(math.Round(float64(w) * p.Height / p.Width))
}

type engine struct {
	fake *Engine
}

func (e *engine) OpenDocument(path string) (render.Document, error) {
	if e.fake.OpenErr != nil {
		return nil, e.fake.OpenErr
	}
	return &document{fake: e.fake}, nil
}

func (e *engine) Close() error {
	e.fake.mu.Lock()
	e.fake.closes++
	e.fake.mu.Unlock()
	return nil
}

type document struct {
	fake *Engine
}

func (d *document) PageCount() (int, error) {
	return len(d.fake.Pages), nil
}

func (d *document) PageSize(index int) (float64, float64, error) {
	if index < 0 || index >= len(d.fake.Pages) {
		return 0, 0, render.ErrNoPage
	}
	p := d.fake.Pages[index]
	return p.Width, p.Height, nil
}

func (d *document) RenderPage(index int, widthPx int) (image.Image, error) {
	d.fake.mu.Lock()
	d.fake.renders = append(d.fake.renders, widthPx)
	d.fake.mu.Unlock()

	if err := d.fake.RenderErr[index]; err != nil {
		return nil, err
	}
	if index < 0 || index >= len(d.fake.Pages) {
		return nil, render.ErrNoPage
	}
	if widthPx <= 0 {
		return nil, fmt.Errorf("invalid target width %d", widthPx)
	}

	h := heightFor(d.fake.Pages[index], widthPx)
	img := image.NewRGBA(image.Rect(0, 0, widthPx, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: ColorOf(index)}, image.Point{}, draw.Src)
	return img, nil
}

func (d *document) Close() error { return nil }
