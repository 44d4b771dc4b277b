package render

import (
	"fmt"
	"image"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"

	"pdf2img/internal/logging"
)

const pdfiumInstanceTimeout = 30 * time.Second

// PDFiumLoader starts a single-worker PDFium WebAssembly runtime.
//
// LibraryPath may name a PDFium .wasm build; when it is empty or cannot be
// used, the build bundled with go-pdfium is loaded instead.
type PDFiumLoader struct {
	LibraryPath string
}

// Name identifies the engine in error details.
func (l *PDFiumLoader) Name() string { return "PDFium" }

// Load starts the runtime and checks out its only instance.
func (l *PDFiumLoader) Load() (Engine, error) {
	pool, err := l.initPool()
	if err != nil {
		return nil, err
	}

	instance, err := pool.GetInstance(pdfiumInstanceTimeout)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}

	return &pdfiumEngine{pool: pool, instance: instance}, nil
}

func (l *PDFiumLoader) initPool() (pdfium.Pool, error) {
	cfg := webassembly.Config{
		MinIdle:  1,
		MaxIdle:  1,
		MaxTotal: 1,
	}

	if l.LibraryPath != "" {
		wasm, err := os.ReadFile(l.LibraryPath)
		if err == nil {
			custom := cfg
			custom.WASM = wasm
			pool, initErr := webassembly.Init(custom)
			if initErr == nil {
				return pool, nil
			}
			err = initErr
		}
		logging.Warn("PDFium library unusable, falling back to bundled build", "path", l.LibraryPath, "error", err)
	}

	pool, err := webassembly.Init(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}
	return pool, nil
}

type pdfiumEngine struct {
	pool     pdfium.Pool
	instance pdfium.Pdfium
}

func (e *pdfiumEngine) OpenDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read PDF file: %w", err)
	}

	doc, err := e.instance.OpenDocument(&requests.OpenDocument{File: &data})
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	return &pdfiumDocument{instance: e.instance, doc: doc.Document}, nil
}

func (e *pdfiumEngine) Close() error {
	var err error
	if e.instance != nil {
		err = e.instance.Close()
		e.instance = nil
	}
	if e.pool != nil {
		if perr := e.pool.Close(); err == nil {
			err = perr
		}
		e.pool = nil
	}
	return err
}

type pdfiumDocument struct {
	instance pdfium.Pdfium
	doc      references.FPDF_DOCUMENT
}

func (d *pdfiumDocument) page(index int) requests.Page {
	return requests.Page{
		ByIndex: &requests.PageByIndex{
			Document: d.doc,
			Index:    index,
		},
	}
}

func (d *pdfiumDocument) PageCount() (int, error) {
	resp, err := d.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{Document: d.doc})
	if err != nil {
		return 0, fmt.Errorf("unable to get page count: %w", err)
	}
	return resp.PageCount, nil
}

func (d *pdfiumDocument) PageSize(index int) (float64, float64, error) {
	resp, err := d.instance.GetPageSize(&requests.GetPageSize{Page: d.page(index)})
	if err != nil {
		return 0, 0, fmt.Errorf("unable to get size of page %d: %w", index, err)
	}
	return resp.Width, resp.Height, nil
}

func (d *pdfiumDocument) RenderPage(index int, widthPx int) (image.Image, error) {
	resp, err := d.instance.RenderPageInPixels(&requests.RenderPageInPixels{
		Page:  d.page(index),
		Width: widthPx,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", index, err)
	}
	defer resp.Cleanup()

	// The bitmap belongs to the engine until Cleanup.
	return imaging.Clone(resp.Result.Image), nil
}

func (d *pdfiumDocument) Close() error {
	_, err := d.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: d.doc})
	return err
}
