// Package middleware wires the cross-cutting fiber middleware of the service.
package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"
	"github.com/rs/xid"

	"pdf2img/internal/auth"
	"pdf2img/internal/config"
	"pdf2img/internal/http/handlers"
	"pdf2img/internal/logging"
)

const (
	// OpsPrefix groups the endpoints that never require a token.
	OpsPrefix = "/ops"
	tokenKey  = "api_token"
)

// Register attaches the global middleware to app.
func Register(app *fiber.App, cfg config.Config, store *auth.Store) {
	app.Use(cors.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(requestLogger())

	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint:  OpsPrefix + "/health",
		ReadinessEndpoint: OpsPrefix + "/ready",
		ReadinessProbe: func(*fiber.Ctx) bool {
			return store.Ready()
		},
	}))

	if !cfg.AuthEnabled() && cfg.RateLimiter.UserLimit <= 0 {
		return
	}

	limits := newLimiters(cfg, NewStorage(cfg))

	if cfg.AuthEnabled() {
		app.Use(tokenAuth(store))
		app.Use(limits.tokenLimit(store))
	}
	if cfg.RateLimiter.UserLimit > 0 {
		app.Use(limits.userLimit(cfg.RateLimiter.UserLimit))
	}
}

func requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logging.Info("Request handled",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
		)
		return err
	}
}

func skipAuth(c *fiber.Ctx) bool {
	return c.Method() == fiber.MethodOptions || strings.HasPrefix(c.Path(), OpsPrefix+"/")
}

// tokenAuth expects "Authorization: token <secret>".
func tokenAuth(store *auth.Store) fiber.Handler {
	return keyauth.New(keyauth.Config{
		KeyLookup:  "header:" + fiber.HeaderAuthorization,
		AuthScheme: "token",
		ContextKey: tokenKey,
		Next:       skipAuth,
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if err := store.Validate(key); err != nil {
				return false, err
			}
			return true, nil
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// keyauth may pass a nil error.
			if err == nil {
				err = auth.ErrInvalidToken
			}
			status := fiber.StatusUnauthorized
			if errors.Is(err, auth.ErrTokenStoreNotReady) {
				status = fiber.StatusServiceUnavailable
			}
			logging.Warn("Rejected API token", "path", c.Path(), "error", err)
			return handlers.SendProblem(c, handlers.NewProblem(status, "Authentication error", err.Error()))
		},
	})
}

// NewStorage returns the limiter storage: Redis when configured and
// reachable, memory otherwise.
func NewStorage(cfg config.Config) (store fiber.Storage) {
	if cfg.RateLimiter.RedisHost == "" {
		return memoryStorage.New()
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Redis limiter store init panicked, falling back to memory", "panic", r)
			store = memoryStorage.New()
		}
	}()
	store = redisStorage.New(redisStorage.Config{
		Addrs:    []string{cfg.RateLimiter.RedisHost},
		Database: cfg.RateLimiter.RedisDB,
	})
	logging.Info("Using Redis for rate limiting", "addr", cfg.RateLimiter.RedisHost, "db", cfg.RateLimiter.RedisDB)
	return store
}

type limiters struct {
	interval time.Duration
	storage  fiber.Storage

	mu     sync.RWMutex
	byRate map[int]fiber.Handler
}

func newLimiters(cfg config.Config, storage fiber.Storage) *limiters {
	return &limiters{
		interval: cfg.RateLimiter.Interval,
		storage:  storage,
		byRate:   map[int]fiber.Handler{},
	}
}

func tooManyRequests(c *fiber.Ctx) error {
	return handlers.SendProblem(c, handlers.NewProblem(fiber.StatusTooManyRequests, "Rate limit error", "Too many requests"))
}

// forRate returns the shared limiter of all tokens with the given limit.
func (l *limiters) forRate(limit int) fiber.Handler {
	l.mu.RLock()
	h, ok := l.byRate[limit]
	l.mu.RUnlock()
	if ok {
		return h
	}

	h = limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        l.interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           l.storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			token, _ := c.Locals(tokenKey).(string)
			return "token:" + token
		},
		LimitReached: func(c *fiber.Ctx) error {
			logging.Warn("Rate limit exceeded", "path", c.Path(), "limit", limit)
			return tooManyRequests(c)
		},
	})

	l.mu.Lock()
	if existing, ok := l.byRate[limit]; ok {
		h = existing
	} else {
		l.byRate[limit] = h
	}
	l.mu.Unlock()
	return h
}

// tokenLimit applies the per-token limit from the token table. Tokens
// without a limit pass through.
func (l *limiters) tokenLimit(store *auth.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := c.Locals(tokenKey).(string)
		if !ok || token == "" {
			return c.Next()
		}
		limit := store.RateLimit(token)
		if limit <= 0 {
			return c.Next()
		}
		return l.forRate(limit)(c)
	}
}

func clientKey(c *fiber.Ctx) string {
	sum := sha256.Sum256([]byte(c.IP() + c.Get(fiber.HeaderUserAgent)))
	return "user:" + hex.EncodeToString(sum[:])
}

// userLimit limits anonymous clients by IP and user agent. Authenticated
// requests are governed by tokenLimit instead.
func (l *limiters) userLimit(limit int) fiber.Handler {
	h := limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        l.interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           l.storage,
		Next:              skipAuth,
		KeyGenerator:      clientKey,
		LimitReached: func(c *fiber.Ctx) error {
			logging.Warn("Rate limit exceeded", "user", clientKey(c), "path", c.Path())
			return tooManyRequests(c)
		},
	})
	return func(c *fiber.Ctx) error {
		if token, ok := c.Locals(tokenKey).(string); ok && token != "" {
			return c.Next()
		}
		return h(c)
	}
}
