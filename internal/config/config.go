package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Engine names accepted by render.engine.
const (
	EnginePDFium = "pdfium"
	EngineMuPDF  = "mupdf"
)

// Counter backends accepted by counter.backend.
const (
	CounterMemory = "memory"
	CounterRedis  = "redis"
)

// PostgresConfig describes the optional API token table.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Enabled reports whether a token table is configured at all.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

// Config holds every setting of the service.
type Config struct {
	Server struct {
		Host        string `yaml:"host"`
		Port        string `yaml:"port"`
		Prefork     bool   `yaml:"prefork"`
		BodyLimitMB int    `yaml:"body_limit_mb"`
	} `yaml:"server"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Render struct {
		Engine       string `yaml:"engine"`
		LibraryPath  string `yaml:"library_path"`
		JPEGQuality  int    `yaml:"jpeg_quality"`
		WebPLossless bool   `yaml:"webp_lossless"`
		TempDir      string `yaml:"temp_dir"`
	} `yaml:"render"`

	Counter struct {
		Backend   string `yaml:"backend"`
		RedisHost string `yaml:"redis_host"`
		RedisDB   int    `yaml:"redis_db"`
		Key       string `yaml:"key"`
	} `yaml:"counter"`

	Auth struct {
		Token          string         `yaml:"token"`
		Postgres       PostgresConfig `yaml:"postgres"`
		ReloadInterval time.Duration  `yaml:"reload_interval"`
	} `yaml:"auth"`

	RateLimiter struct {
		UserLimit int           `yaml:"user_limit"`
		Interval  time.Duration `yaml:"interval"`
		RedisHost string        `yaml:"redis_host"`
		RedisDB   int           `yaml:"redis_db"`
	} `yaml:"rate_limiter"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = ":8507"
	cfg.Server.BodyLimitMB = 64

	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 10
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 7

	cfg.Render.Engine = EnginePDFium
	cfg.Render.JPEGQuality = 90
	cfg.Render.WebPLossless = true

	cfg.Counter.Backend = CounterMemory
	cfg.Counter.Key = "pdf2img:count_conversions"

	cfg.Auth.ReloadInterval = time.Minute

	cfg.RateLimiter.Interval = time.Minute
	return cfg
}

// Load reads the config file named by CONFIG_PATH (defaults only when
// unset) and applies environment overrides.
func Load() Config {
	return LoadFrom(os.Getenv("CONFIG_PATH"))
}

// LoadFrom reads the YAML file at path on top of Default, applies the
// environment overrides and validates the result. Invalid settings panic.
func LoadFrom(path string) Config {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			panic(fmt.Sprintf("failed to read config file %s: %v", path, err))
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic(fmt.Sprintf("failed to parse config file %s: %v", path, err))
		}
	}

	// Silently ignored when missing.
	_ = godotenv.Load(".env")
	applyEnv(&cfg)

	if err := validate(cfg); err != nil {
		panic(fmt.Sprintf("invalid config: %v", err))
	}
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HPI_PORT"); v != "" {
		if !strings.HasPrefix(v, ":") {
			v = ":" + v
		}
		cfg.Server.Port = v
	}
	if v := os.Getenv("HPI_AUTH_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("HPI_PDFIUM_LIB"); v != "" {
		cfg.Render.LibraryPath = v
	}
	if v := os.Getenv("HPI_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("HPI_PREFORK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Server.Prefork = b
		}
	}
}

func validate(cfg Config) error {
	switch cfg.Render.Engine {
	case EnginePDFium, EngineMuPDF:
	default:
		return fmt.Errorf("render.engine must be %q or %q, got %q", EnginePDFium, EngineMuPDF, cfg.Render.Engine)
	}
	if cfg.Render.JPEGQuality < 1 || cfg.Render.JPEGQuality > 100 {
		return fmt.Errorf("render.jpeg_quality must be between 1 and 100, got %d", cfg.Render.JPEGQuality)
	}

	switch cfg.Counter.Backend {
	case CounterMemory:
	case CounterRedis:
		if cfg.Counter.RedisHost == "" {
			return fmt.Errorf("counter.redis_host is required for the redis backend")
		}
	default:
		return fmt.Errorf("counter.backend must be %q or %q, got %q", CounterMemory, CounterRedis, cfg.Counter.Backend)
	}

	if cfg.Server.BodyLimitMB <= 0 {
		return fmt.Errorf("server.body_limit_mb must be positive")
	}
	if cfg.RateLimiter.UserLimit < 0 {
		return fmt.Errorf("rate_limiter.user_limit must not be negative")
	}
	if cfg.RateLimiter.UserLimit > 0 && cfg.RateLimiter.Interval <= 0 {
		return fmt.Errorf("rate_limiter.interval must be positive")
	}
	if cfg.Auth.Postgres.Enabled() && cfg.Auth.ReloadInterval <= 0 {
		return fmt.Errorf("auth.reload_interval must be positive")
	}
	return nil
}

// ListenAddr is the address handed to fiber's Listen.
func (c Config) ListenAddr() string {
	return c.Server.Host + c.Server.Port
}

// BodyLimit is the maximum request body size in bytes.
func (c Config) BodyLimit() int {
	return c.Server.BodyLimitMB * 1024 * 1024
}

// AuthEnabled reports whether requests must carry an API token.
func (c Config) AuthEnabled() bool {
	return c.Auth.Token != "" || c.Auth.Postgres.Enabled()
}
