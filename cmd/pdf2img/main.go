package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"

	"pdf2img/internal/auth"
	"pdf2img/internal/config"
	"pdf2img/internal/convert"
	"pdf2img/internal/counter"
	"pdf2img/internal/http/server"
	"pdf2img/internal/imageio"
	"pdf2img/internal/logging"
	"pdf2img/internal/render"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg := loadConfig(os.Args[1:])
	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		logging.Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		logging.Warn("Failed to set GOMAXPROCS", "error", err)
	}

	loader, err := render.NewLoader(cfg)
	if err != nil {
		logging.Error("Invalid render engine", "error", err)
		os.Exit(1)
	}
	codec := imageio.Codec{JPEGQuality: cfg.Render.JPEGQuality, WebPLossless: cfg.Render.WebPLossless}

	ctr, redisClient := counter.New(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokens := auth.NewStore(cfg)
	defer tokens.Close()
	if cfg.Auth.Postgres.Enabled() {
		if err := tokens.LoadFromPostgres(ctx); err != nil {
			logging.Error("Failed to load API tokens", "error", err)
		}
		go tokens.Refresh(ctx, cfg.Auth.ReloadInterval)
	}

	app := server.New(server.Deps{
		Config:    cfg,
		Converter: convert.New(loader, codec),
		Counter:   ctr,
		Tokens:    tokens,
	})

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)

	logging.Info("Starting server", "addr", cfg.ListenAddr(), "engine", cfg.Render.Engine, "counter", cfg.Counter.Backend)
	startServer(app, cfg.ListenAddr(), sigint)
}

// loadConfig resolves the config file from --config, falling back to
// CONFIG_PATH.
func loadConfig(args []string) config.Config {
	fs := pflag.NewFlagSet("pdf2img", pflag.ExitOnError)
	path := fs.StringP("config", "c", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	_ = fs.Parse(args)
	return config.LoadFrom(*path)
}

// startServer runs app until a value arrives on stop, then shuts it down
// gracefully.
func startServer(app *fiber.App, addr string, stop <-chan os.Signal) {
	go func() {
		if err := app.Listen(addr); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	<-stop
	logging.Warn("Shutdown signal received, closing server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}
	logging.Info("Server stopped cleanly")
}
