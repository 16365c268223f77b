package domain

import (
	"context"
	"time"
)

// Cache stores assembled entity views as opaque bytes. A miss is reported
// as (nil, nil), never as an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects the view cache. Type "memory" is a process-local LRU;
// "redis" shares views between nodes, optionally behind a local LRU when
// EnableTwoPhase is set.
type CacheConfig struct {
	Type string

	LocalMaxSize int
	LocalTTL     time.Duration // L1 lifetime in two-phase mode

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	EnableTwoPhase bool

	// ViewTTL bounds how long an assembled entity view is served from cache.
	ViewTTL time.Duration
}
