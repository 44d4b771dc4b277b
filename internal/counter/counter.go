// Package counter tracks how many conversions the service has attempted.
package counter

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"pdf2img/internal/config"
)

// Counter is the only state shared across requests.
type Counter interface {
	Increment(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

// Memory is a process-local counter.
type Memory struct {
	n atomic.Int64
}

// NewMemory returns a counter starting at zero.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Increment(context.Context) error {
	m.n.Add(1)
	return nil
}

func (m *Memory) Count(context.Context) (int64, error) {
	return m.n.Load(), nil
}

// Redis keeps the count under one key so that preforked children and
// replicas report the same number.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis returns a counter stored at key.
func NewRedis(client *redis.Client, key string) *Redis {
	return &Redis{client: client, key: key}
}

func (r *Redis) Increment(ctx context.Context) error {
	if err := r.client.Incr(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("increment %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis) Count(ctx context.Context) (int64, error) {
	n, err := r.client.Get(ctx, r.key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", r.key, err)
	}
	return n, nil
}

// New builds the counter selected by cfg.Counter.Backend. The returned
// client is nil for the memory backend.
func New(cfg config.Config) (Counter, *redis.Client) {
	if cfg.Counter.Backend != config.CounterRedis {
		return NewMemory(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Counter.RedisHost,
		DB:   cfg.Counter.RedisDB,
	})
	return NewRedis(client, cfg.Counter.Key), client
}
