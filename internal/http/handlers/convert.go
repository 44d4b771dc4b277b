// Package handlers implements the HTTP endpoints of the service.
package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"pdf2img/internal/archive"
	"pdf2img/internal/convert"
	"pdf2img/internal/counter"
	"pdf2img/internal/domain"
	"pdf2img/internal/logging"
	"pdf2img/internal/render"
	"pdf2img/internal/scratch"
)

const (
	mimePDF      = "application/pdf"
	scratchPDF   = "hpi"
	pdfMagic     = "%PDF"
	detailEmpty  = "No pages could be extracted from the PDF. Is it empty?"
	detailNotPDF = "The uploaded file does not seem to be a PDF file"
	detailQuery  = "Bad query params"
)

// Handler serves the conversion endpoints.
type Handler struct {
	Converter *convert.Converter
	Counter   counter.Counter
	// TempDir holds the scratch files of every request; empty means the
	// system temporary directory.
	TempDir string
}

// New creates a handler.
func New(conv *convert.Converter, ctr counter.Counter, tempDir string) *Handler {
	return &Handler{Converter: conv, Counter: ctr, TempDir: tempDir}
}

// Convert handles POST /: the body is a PDF, the response one image or a
// ZIP of page images depending on Accept.
func (h *Handler) Convert(c *fiber.Ctx) error {
	if !isPDFContentType(c.Get(fiber.HeaderContentType)) {
		logging.Warn("Rejected request content type", "content_type", c.Get(fiber.HeaderContentType))
		return SendProblem(c, NewProblem(fiber.StatusNotAcceptable, TitleRequest,
			fmt.Sprintf("The Content-Type of request must be %q", mimePDF)))
	}

	params, err := domain.Resolve(c.Queries(), c.Get(fiber.HeaderAccept))
	if err != nil {
		logging.Warn("Rejected query parameters", "error", err)
		return SendProblem(c, NewProblem(fiber.StatusBadRequest, TitleRequest, detailQuery))
	}

	body := c.Body()
	if !bytes.HasPrefix(body, []byte(pdfMagic)) {
		logging.Info("Rejected non-PDF upload", "size", len(body))
		return SendProblem(c, NewProblem(fiber.StatusUnprocessableEntity, TitleRequest, detailNotPDF))
	}

	arena := scratch.NewArena(h.TempDir)
	defer arena.Release()

	pdf, err := arena.WriteFile(scratchPDF, ".pdf", body)
	if err != nil {
		logging.Error("Failed to store uploaded PDF", "error", err)
		return SendProblem(c, NewProblem(fiber.StatusInternalServerError, TitleConvert, h.convertDetail(
			&convert.Error{Kind: convert.KindTemporaryStorage, Page: -1, Err: err})))
	}

	logging.Info("Converting PDF", "params", params.String(), "size", len(body))
	outcome, convErr := h.Converter.Convert(arena, pdf.Path(), params)
	if err := h.Counter.Increment(c.UserContext()); err != nil {
		logging.Warn("Failed to increment conversion counter", "error", err)
	}
	if convErr != nil {
		logging.Error("PDF conversion failed", "error", convErr)
		return SendProblem(c, NewProblem(fiber.StatusInternalServerError, TitleConvert, h.convertDetail(convErr)))
	}

	switch outcome.Shape {
	case convert.Empty:
		logging.Info("PDF has no pages")
		return SendProblem(c, NewProblem(fiber.StatusBadRequest, TitleRequest, detailEmpty))
	case convert.Multiple:
		files := make([]*scratch.File, 0, len(outcome.Artifacts))
		for _, a := range outcome.Artifacts {
			files = append(files, a.File)
		}
		zipped, err := archive.Package(arena, files)
		if err != nil {
			logging.Error("Failed to package page images", "error", err)
			return SendProblem(c, NewProblem(fiber.StatusInternalServerError, TitleZip, zipDetail(err)))
		}
		return sendFile(c, zipped)
	default:
		return sendFile(c, outcome.Artifact().File)
	}
}

// Status handles GET /.
func (h *Handler) Status(c *fiber.Ctx) error {
	n, err := h.Counter.Count(c.UserContext())
	if err != nil {
		logging.Error("Failed to read conversion counter", "error", err)
		return SendProblem(c, NewProblem(fiber.StatusInternalServerError, TitleInternal, "Conversion counter unavailable"))
	}
	return c.JSON(fiber.Map{"count_conversions": n})
}

// sendFile reads f fully so the arena can be released before the response
// is flushed.
func sendFile(c *fiber.Ctx, f *scratch.File) error {
	data, err := f.ReadAll()
	if err != nil {
		logging.Error("Failed to read result file", "file", f.Name(), "error", err)
		return SendProblem(c, NewProblem(fiber.StatusInternalServerError, TitleConvert,
			fmt.Sprintf("Failed read image: %v", err)))
	}
	c.Type(strings.TrimPrefix(filepath.Ext(f.Name()), "."))
	return c.Send(data)
}

func isPDFContentType(v string) bool {
	essence, _, _ := strings.Cut(v, ";")
	return strings.EqualFold(strings.TrimSpace(essence), mimePDF)
}

func (h *Handler) convertDetail(err error) string {
	var ce *convert.Error
	if !errors.As(err, &ce) {
		return err.Error()
	}
	switch ce.Kind {
	case convert.KindLibraryLoad:
		return fmt.Sprintf("Failed loading the %s library: %v", render.EngineName(h.Converter.Loader), ce.Err)
	case convert.KindDocumentLoad:
		return fmt.Sprintf("Failed loading the document binary: %v", ce.Err)
	case convert.KindPageRender:
		return fmt.Sprintf("Failed rendering the PDF page: %v", ce.Err)
	case convert.KindImageEncode:
		return fmt.Sprintf("Failed writing the PDF page as image: %v", ce.Err)
	case convert.KindImageDecode:
		return fmt.Sprintf("Failed read image: %v", ce.Err)
	default:
		return "Unknown file write error"
	}
}

func zipDetail(err error) string {
	var ae *archive.Error
	if !errors.As(err, &ae) {
		return err.Error()
	}
	switch ae.Kind {
	case archive.KindCreate:
		return fmt.Sprintf("ZIP IO error: %v", ae.Err)
	case archive.KindRead:
		return fmt.Sprintf("ZIP read to buffer error: %v", ae.Err)
	default:
		return fmt.Sprintf("ZIP write error: %v", ae.Err)
	}
}
