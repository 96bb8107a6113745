// Package cache provides the byte cache behind query embeddings and
// memoized answers, in-process or shared through Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/dotcommander/lore/internal/app"
)

// Backend names accepted in configuration.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// Cache is a scoped byte cache with per-entry TTL. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, scope, key string) ([]byte, bool, error)
	Set(ctx context.Context, scope, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, scope, key string) error
	Backend() string
	Close() error
}

// Key returns the namespaced storage key "lore:{scope}:{sha256(key)[:32]}".
// Hashing keeps arbitrary query text out of key space and bounds key length.
func Key(scope, key string) string {
	sum := sha256.Sum256([]byte(key))
	return "lore:" + scope + ":" + hex.EncodeToString(sum[:])[:32]
}

// New builds the configured backend. A Redis backend that cannot be reached
// falls back to memory with a warning so the CLI keeps working offline.
func New(ctx context.Context, cfg app.CacheSettings) (Cache, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemory(cfg.MaxEntries), nil
	case BackendNone:
		return Noop{}, nil
	case BackendRedis:
		rc, err := NewRedis(ctx, RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			slog.Warn("redis cache unavailable, using memory", "addr", cfg.RedisAddr, "error", err)
			return NewMemory(cfg.MaxEntries), nil
		}
		return rc, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

// Noop caches nothing.
type Noop struct{}

func (Noop) Get(context.Context, string, string) ([]byte, bool, error) { return nil, false, nil }

func (Noop) Set(context.Context, string, string, []byte, time.Duration) error { return nil }

func (Noop) Delete(context.Context, string, string) error { return nil }

func (Noop) Backend() string { return BackendNone }

func (Noop) Close() error { return nil }
