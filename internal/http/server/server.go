// Package server assembles the fiber application.
package server

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"pdf2img/internal/auth"
	"pdf2img/internal/config"
	"pdf2img/internal/convert"
	"pdf2img/internal/counter"
	"pdf2img/internal/http/handlers"
	"pdf2img/internal/http/middleware"
	"pdf2img/internal/logging"
)

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Config    config.Config
	Converter *convert.Converter
	Counter   counter.Counter
	Tokens    *auth.Store
}

// New creates and configures the fiber app.
func New(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "pdf2img",
		Prefork:               d.Config.Server.Prefork,
		BodyLimit:             d.Config.BodyLimit(),
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	middleware.Register(app, d.Config, d.Tokens)

	h := handlers.New(d.Converter, d.Counter, d.Config.Render.TempDir)
	app.Post("/", h.Convert)
	app.Get("/", h.Status)
	app.Get(middleware.OpsPrefix+"/monitor", monitor.New(monitor.Config{Title: "pdf2img"}))

	// Unknown routes still answer with a problem body.
	app.Use(func(c *fiber.Ctx) error {
		return fiber.ErrNotFound
	})

	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	detail := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		detail = fe.Message
	}

	if code >= fiber.StatusInternalServerError {
		logging.Error("Request failed", "path", c.Path(), "status", code, "error", err)
	} else {
		logging.Warn("Request failed", "path", c.Path(), "status", code, "message", detail)
	}

	return handlers.SendProblem(c, handlers.NewProblem(code, http.StatusText(code), detail))
}
