package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadFrom_EmptyPathUsesDefaults(t *testing.T) {
	cfg := LoadFrom("")

	assert.Equal(t, ":8507", cfg.Server.Port)
	assert.Equal(t, EnginePDFium, cfg.Render.Engine)
	assert.Equal(t, CounterMemory, cfg.Counter.Backend)
	assert.Equal(t, 64*1024*1024, cfg.BodyLimit())
	assert.False(t, cfg.AuthEnabled())
}

func TestLoadFrom_Valid(t *testing.T) {
	p := writeConfig(t, `server:
  host: "127.0.0.1"
  port: ":9000"
  body_limit_mb: 8
render:
  engine: mupdf
  jpeg_quality: 75
counter:
  backend: redis
  redis_host: "127.0.0.1:6379"
  redis_db: 2
auth:
  token: "secret"
rate_limiter:
  user_limit: 20
  interval: 1h
`)
	cfg := LoadFrom(p)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr())
	assert.Equal(t, EngineMuPDF, cfg.Render.Engine)
	assert.Equal(t, 75, cfg.Render.JPEGQuality)
	assert.Equal(t, CounterRedis, cfg.Counter.Backend)
	assert.Equal(t, 2, cfg.Counter.RedisDB)
	// Untouched keys keep their defaults.
	assert.Equal(t, "pdf2img:count_conversions", cfg.Counter.Key)
	assert.Equal(t, time.Hour, cfg.RateLimiter.Interval)
	assert.True(t, cfg.AuthEnabled())
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	t.Setenv("HPI_PORT", "8600")
	t.Setenv("HPI_AUTH_TOKEN", "from-env")
	t.Setenv("HPI_PDFIUM_LIB", "/opt/pdfium/pdfium.wasm")

	cfg := LoadFrom("")

	assert.Equal(t, ":8600", cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Auth.Token)
	assert.Equal(t, "/opt/pdfium/pdfium.wasm", cfg.Render.LibraryPath)
}

func TestLoadFrom_PanicsOnInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{name: "unknown engine", yml: "render:\n  engine: ghostscript\n"},
		{name: "jpeg quality", yml: "render:\n  jpeg_quality: 0\n"},
		{name: "unknown counter", yml: "counter:\n  backend: etcd\n"},
		{name: "redis counter without host", yml: "counter:\n  backend: redis\n"},
		{name: "negative user limit", yml: "rate_limiter:\n  user_limit: -1\n"},
		{name: "zero limiter interval", yml: "rate_limiter:\n  user_limit: 5\n  interval: 0s\n"},
		{name: "zero body limit", yml: "server:\n  body_limit_mb: 0\n"},
		{name: "zero token reload", yml: "auth:\n  postgres:\n    host: db\n  reload_interval: 0s\n"},
		{name: "broken yaml", yml: "server: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := writeConfig(t, tc.yml)
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			_ = LoadFrom(p)
		})
	}
}

func TestLoadFrom_PanicsOnMissingFile(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	_ = LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
}

func TestLoad_UsesConfigPathEnv(t *testing.T) {
	p := writeConfig(t, "server:\n  port: \":7000\"\n")
	t.Setenv("CONFIG_PATH", p)

	cfg := Load()
	if cfg.Server.Port != ":7000" {
		t.Fatalf("expected CONFIG_PATH to be used, got %q", cfg.Server.Port)
	}
}
