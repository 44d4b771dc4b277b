// Package auth holds the API tokens accepted by the service.
//
// Tokens come from two places: a single static token from the config and an
// optional Postgres table that also carries a per-token rate limit. The
// table is loaded once at start and then refreshed on an interval.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"pdf2img/internal/config"
	"pdf2img/internal/logging"
)

var (
	// ErrInvalidToken signals that the presented token is not known.
	ErrInvalidToken = errors.New("invalid api token")
	// ErrTokenStoreNotReady signals that the token table has not been loaded
	// yet, usually because the database was not reachable at start.
	ErrTokenStoreNotReady = errors.New("token store not ready")
)

// driverName is swapped in tests.
var driverName = "pgx"

// Store is an in-memory view of the accepted tokens.
type Store struct {
	static   string
	postgres config.PostgresConfig

	mu    sync.RWMutex
	cache map[string]int

	dbMu sync.Mutex
	dsn  string
	db   *sql.DB
}

// NewStore returns a store for the auth section of cfg. Without a Postgres
// source the store is ready immediately.
func NewStore(cfg config.Config) *Store {
	s := &Store{static: cfg.Auth.Token, postgres: cfg.Auth.Postgres}
	if !s.postgres.Enabled() {
		s.cache = map[string]int{}
	}
	return s
}

// LoadFromMap replaces the cached table.
func (s *Store) LoadFromMap(m map[string]int) {
	cache := make(map[string]int, len(m))
	for k, v := range m {
		cache[k] = v
	}
	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
}

// Ready reports whether the table has been loaded at least once.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache != nil
}

// Validate checks token against the static token and the cached table.
func (s *Store) Validate(token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	if s.static != "" && token == s.static {
		return nil
	}
	if !s.Ready() {
		return ErrTokenStoreNotReady
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.cache[token]; !ok {
		return ErrInvalidToken
	}
	return nil
}

// RateLimit returns the per-interval request limit of token, or 0 when the
// token has none.
func (s *Store) RateLimit(token string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache[token]
}

func postgresPort(cfg config.PostgresConfig) int {
	if cfg.Port != 0 {
		return cfg.Port
	}
	return 5432
}

func postgresDSN(cfg config.PostgresConfig) (string, error) {
	if strings.HasPrefix(cfg.Host, "postgres://") || strings.HasPrefix(cfg.Host, "postgresql://") {
		return cfg.Host, nil
	}
	if cfg.Host == "" {
		return "", fmt.Errorf("postgres host is empty")
	}
	if cfg.Database == "" {
		return "", fmt.Errorf("postgres database is empty")
	}
	if cfg.User == "" {
		return "", fmt.Errorf("postgres user is empty")
	}

	hostPort := cfg.Host
	port := postgresPort(cfg)
	switch {
	case strings.HasPrefix(hostPort, "["):
		if !strings.Contains(hostPort, "]:") {
			hostPort = fmt.Sprintf("%s:%d", hostPort, port)
		}
	case strings.Count(hostPort, ":") >= 2:
		hostPort = fmt.Sprintf("[%s]:%d", hostPort, port)
	case !strings.Contains(hostPort, ":"):
		hostPort = fmt.Sprintf("%s:%d", hostPort, port)
	}

	u := &url.URL{Scheme: "postgres", Host: hostPort, Path: "/" + cfg.Database}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}
	q := u.Query()
	if cfg.SSLMode != "" {
		q.Set("sslmode", cfg.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Store) conn(ctx context.Context) (*sql.DB, error) {
	dsn, err := postgresDSN(s.postgres)
	if err != nil {
		return nil, err
	}

	s.dbMu.Lock()
	defer s.dbMu.Unlock()

	if s.db != nil && s.dsn == dsn {
		return s.db, nil
	}
	if s.db != nil {
		_ = s.db.Close()
		s.db, s.dsn = nil, ""
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.db, s.dsn = db, dsn
	return db, nil
}

const tokensDDL = `CREATE TABLE IF NOT EXISTS tokens (
	token TEXT PRIMARY KEY,
	rate_limit INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	comment TEXT
);`

// LoadFromPostgres reads the token table into the cache, creating the table
// when it does not exist yet.
func (s *Store) LoadFromPostgres(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, tokensDDL); err != nil {
		return fmt.Errorf("ensure tokens table: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT token, rate_limit FROM tokens;`)
	if err != nil {
		return fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	cache := make(map[string]int)
	for rows.Next() {
		var token string
		var limit int
		if err := rows.Scan(&token, &limit); err != nil {
			return err
		}
		cache[token] = limit
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
	logging.Debug("Loaded API tokens", "count", len(cache))
	return nil
}

// Refresh reloads the token table every interval until ctx is done. It is a
// no-op without a Postgres source.
func (s *Store) Refresh(ctx context.Context, interval time.Duration) {
	if !s.postgres.Enabled() {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.LoadFromPostgres(ctx); err != nil {
				logging.Error("Failed to reload API tokens", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close releases the database handle, if any.
func (s *Store) Close() error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db, s.dsn = nil, ""
	return err
}
