package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dotcommander/lore/internal/apperr"
)

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// Redis is a Cache shared across processes.
type Redis struct {
	client *redis.Client
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, apperr.Validation("redis_addr", "is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, apperr.External("redis", "ping", 0, fmt.Errorf("connect %s: %w", opts.Addr, err))
	}
	return &Redis{client: rdb}, nil
}

func (r *Redis) Get(ctx context.Context, scope, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, Key(scope, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.External("redis", "get", 0, err)
	}
	return b, true, nil
}

// Set stores value; a non-positive ttl stores without expiry.
func (r *Redis) Set(ctx context.Context, scope, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, Key(scope, key), value, ttl).Err(); err != nil {
		return apperr.External("redis", "set", 0, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, scope, key string) error {
	if err := r.client.Del(ctx, Key(scope, key)).Err(); err != nil {
		return apperr.External("redis", "del", 0, err)
	}
	return nil
}

func (r *Redis) Backend() string { return BackendRedis }

func (r *Redis) Close() error { return r.client.Close() }

// Ping checks connectivity; used by doctor and /healthz.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return apperr.External("redis", "ping", 0, err)
	}
	return nil
}
