package auth

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf2img/internal/config"
)

// fakeDriver serves the tokens table from memory.
type fakeDriver struct {
	mu    sync.Mutex
	rows  [][]driver.Value
	execs []string
	dsns  []string
}

func (d *fakeDriver) setRows(rows map[string]int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows = nil
	for k, v := range rows {
		d.rows = append(d.rows, []driver.Value{k, int64(v)})
	}
}

func (d *fakeDriver) Open(name string) (driver.Conn, error) {
	d.mu.Lock()
	d.dsns = append(d.dsns, name)
	d.mu.Unlock()
	return &fakeConn{d: d}, nil
}

type fakeConn struct{ d *fakeDriver }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{d: c.d, query: query}, nil
}
func (c *fakeConn) Close() error              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) { return nil, errors.New("no transactions") }

type fakeStmt struct {
	d     *fakeDriver
	query string
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec([]driver.Value) (driver.Result, error) {
	s.d.mu.Lock()
	s.d.execs = append(s.d.execs, s.query)
	s.d.mu.Unlock()
	return driver.RowsAffected(0), nil
}

func (s *fakeStmt) Query([]driver.Value) (driver.Rows, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return &fakeRows{rows: append([][]driver.Value(nil), s.d.rows...)}, nil
}

type fakeRows struct {
	rows [][]driver.Value
}

func (r *fakeRows) Columns() []string { return []string{"token", "rate_limit"} }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if len(r.rows) == 0 {
		return io.EOF
	}
	copy(dest, r.rows[0])
	r.rows = r.rows[1:]
	return nil
}

var fake = &fakeDriver{}

func init() {
	sql.Register("pdf2img-fake", fake)
}

func postgresStore(t *testing.T) *Store {
	t.Helper()
	prev := driverName
	driverName = "pdf2img-fake"
	t.Cleanup(func() { driverName = prev })

	cfg := config.Default()
	cfg.Auth.Postgres = config.PostgresConfig{Host: "db", Database: "pdf2img", User: "svc"}
	s := NewStore(cfg)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_StaticToken(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.Token = "secret"
	s := NewStore(cfg)

	assert.True(t, s.Ready())
	assert.NoError(t, s.Validate("secret"))
	assert.ErrorIs(t, s.Validate("other"), ErrInvalidToken)
	assert.ErrorIs(t, s.Validate(""), ErrInvalidToken)
	assert.Equal(t, 0, s.RateLimit("secret"))
}

func TestStore_LoadFromMap(t *testing.T) {
	s := NewStore(config.Default())

	s.LoadFromMap(map[string]int{"a": 5, "b": 10})
	assert.NoError(t, s.Validate("a"))
	assert.Equal(t, 5, s.RateLimit("a"))
	assert.Equal(t, 10, s.RateLimit("b"))
	assert.ErrorIs(t, s.Validate("c"), ErrInvalidToken)
	assert.Equal(t, 0, s.RateLimit("c"))

	s.LoadFromMap(map[string]int{"a": 7, "c": 12})
	assert.Equal(t, 7, s.RateLimit("a"))
	assert.ErrorIs(t, s.Validate("b"), ErrInvalidToken)
	assert.NoError(t, s.Validate("c"))
}

func TestStore_NotReadyUntilLoaded(t *testing.T) {
	s := postgresStore(t)

	assert.False(t, s.Ready())
	assert.ErrorIs(t, s.Validate("a"), ErrTokenStoreNotReady)
}

func TestStore_LoadFromPostgres(t *testing.T) {
	s := postgresStore(t)
	fake.setRows(map[string]int{"alpha": 3, "beta": 0})

	require.NoError(t, s.LoadFromPostgres(context.Background()))
	assert.True(t, s.Ready())
	assert.NoError(t, s.Validate("alpha"))
	assert.Equal(t, 3, s.RateLimit("alpha"))
	assert.NoError(t, s.Validate("beta"))

	fake.mu.Lock()
	lastExec := fake.execs[len(fake.execs)-1]
	lastDSN := fake.dsns[len(fake.dsns)-1]
	fake.mu.Unlock()
	assert.True(t, strings.HasPrefix(lastExec, "CREATE TABLE IF NOT EXISTS tokens"))
	assert.Equal(t, "postgres://svc@db:5432/pdf2img", lastDSN)

	fake.setRows(map[string]int{"gamma": 1})
	require.NoError(t, s.LoadFromPostgres(context.Background()))
	assert.ErrorIs(t, s.Validate("alpha"), ErrInvalidToken)
	assert.NoError(t, s.Validate("gamma"))
}

func TestStore_Refresh(t *testing.T) {
	s := postgresStore(t)
	fake.setRows(map[string]int{"first": 1})
	require.NoError(t, s.LoadFromPostgres(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Refresh(ctx, 10*time.Millisecond)
		close(done)
	}()

	fake.setRows(map[string]int{"second": 2})
	assert.Eventually(t, func() bool {
		return s.Validate("second") == nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("refresh loop did not stop")
	}
}

func TestStore_RefreshWithoutPostgresReturns(t *testing.T) {
	s := NewStore(config.Default())
	done := make(chan struct{})
	go func() {
		s.Refresh(context.Background(), time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("refresh should return without a postgres source")
	}
}

func TestPostgresDSN_BuildsURL(t *testing.T) {
	dsn, err := postgresDSN(config.PostgresConfig{
		Host:     "localhost",
		Port:     5433,
		Database: "pdf2img",
		User:     "user",
		Password: "p@ss word",
		SSLMode:  "disable",
	})
	require.NoError(t, err)

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "localhost:5433", u.Host)
	assert.Equal(t, "/pdf2img", u.Path)
	assert.Equal(t, "user", u.User.Username())
	pw, ok := u.User.Password()
	assert.True(t, ok)
	assert.Equal(t, "p@ss word", pw)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
}

func TestPostgresDSN_HostForms(t *testing.T) {
	base := config.PostgresConfig{Database: "d", User: "u"}

	tests := []struct {
		host string
		want string
	}{
		{"db:6000", "db:6000"},
		{"::1", "[::1]:5432"},
		{"[::1]", "[::1]:5432"},
		{"[::1]:7000", "[::1]:7000"},
	}
	for _, tc := range tests {
		cfg := base
		cfg.Host = tc.host
		dsn, err := postgresDSN(cfg)
		require.NoError(t, err, tc.host)
		u, err := url.Parse(dsn)
		require.NoError(t, err, tc.host)
		assert.Equal(t, tc.want, u.Host, tc.host)
	}
}

func TestPostgresDSN_Passthrough(t *testing.T) {
	raw := "postgres://u:p@localhost:5432/db?sslmode=disable"
	dsn, err := postgresDSN(config.PostgresConfig{Host: raw})
	require.NoError(t, err)
	assert.Equal(t, raw, dsn)
}

func TestPostgresDSN_MissingFields(t *testing.T) {
	_, err := postgresDSN(config.PostgresConfig{})
	assert.Error(t, err)
	_, err = postgresDSN(config.PostgresConfig{Host: "db"})
	assert.Error(t, err)
	_, err = postgresDSN(config.PostgresConfig{Host: "db", Database: "d"})
	assert.Error(t, err)
}
