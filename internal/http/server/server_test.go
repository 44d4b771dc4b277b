package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf2img/internal/auth"
	"pdf2img/internal/config"
	"pdf2img/internal/convert"
	"pdf2img/internal/counter"
	"pdf2img/internal/http/handlers"
	"pdf2img/internal/imageio"
	"pdf2img/internal/render/rendertest"
)

func newTestApp(t *testing.T, cfg config.Config, pages ...rendertest.Page) *fiber.App {
	t.Helper()
	cfg.Render.TempDir = t.TempDir()
	return New(Deps{
		Config:    cfg,
		Converter: convert.New(rendertest.New(pages...), imageio.DefaultCodec()),
		Counter:   counter.NewMemory(),
		Tokens:    auth.NewStore(cfg),
	})
}

func do(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func postPDF(pdf []byte, authorization string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(pdf))
	req.Header.Set("Content-Type", "application/pdf")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	return req
}

func TestServer_ConvertsAndCounts(t *testing.T) {
	pages := []rendertest.Page{rendertest.Letter, rendertest.Letter}
	app := newTestApp(t, config.Default(), pages...)

	resp, body := do(t, app, postPDF(rendertest.BuildPDF(pages...), ""))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))

	img, err := imaging.Decode(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 612, 1584), img.Bounds())

	resp, body = do(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"count_conversions":1}`, string(body))
}

func TestServer_UnknownRouteIsProblem(t *testing.T) {
	app := newTestApp(t, config.Default())

	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, handlers.MIMEProblemJSON, resp.Header.Get("Content-Type"))

	var p map[string]any
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, map[string]any{
		"type":     "about:blank",
		"title":    "Not Found",
		"status":   float64(404),
		"detail":   "Not Found",
		"instance": nil,
	}, p)
}

func TestServer_Monitor(t *testing.T) {
	app := newTestApp(t, config.Default())

	req := httptest.NewRequest(http.MethodGet, "/ops/monitor", nil)
	req.Header.Set("Accept", fiber.MIMEApplicationJSON)
	resp, body := do(t, app, req)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var stats map[string]any
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Contains(t, stats, "pid")
}

func TestServer_AuthProtectsConversion(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Token = "secret"
	app := newTestApp(t, cfg, rendertest.Letter)
	pdf := rendertest.BuildPDF(rendertest.Letter)

	resp, _ := do(t, app, postPDF(pdf, ""))
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, app, postPDF(pdf, "token secret"))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = do(t, app, httptest.NewRequest(http.MethodGet, "/ops/health", nil))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestErrorHandler_PlainError(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: errorHandler})
	app.Get("/", func(c *fiber.Ctx) error { return errors.New("boom") })

	resp, body := do(t, app, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	var p handlers.Problem
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, "Internal Server Error", p.Title)
	assert.Equal(t, "Internal Server Error", p.Detail)
	assert.Nil(t, p.Instance)
}
