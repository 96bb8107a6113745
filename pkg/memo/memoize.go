package memo

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"
)

// Store is the byte cache a Memoizer reads through. internal/cache
// backends satisfy it.
type Store interface {
	Get(ctx context.Context, scope, key string) ([]byte, bool, error)
	Set(ctx context.Context, scope, key string, value []byte, ttl time.Duration) error
}

// Memoizer caches JSON-encoded results in a Store and collapses concurrent
// computations of the same key into one.
type Memoizer struct {
	store Store
	scope string
	group singleflight.Group

	// OnError, when set, observes cache read/write failures. Cache errors
	// never fail the memoized call; the value is recomputed instead.
	OnError func(op string, err error)

	// Timeout bounds a shared computation. Zero means no bound beyond fn's own.
	Timeout time.Duration
}

// NewMemoizer returns a Memoizer writing under scope in store.
func NewMemoizer(store Store, scope string) *Memoizer {
	return &Memoizer{store: store, scope: scope}
}

type flightResult struct {
	raw    []byte
	cached bool
}

// Memoize returns the cached value for key, or runs fn once (across all
// concurrent callers with the same key), stores its result for ttl and
// returns it. cached reports whether the value came from the store.
// Errors from fn are returned and never cached.
//
// fn runs detached from the caller's cancellation, so one caller giving up
// does not fail the others waiting on the same key. Each caller still
// returns early when its own ctx is done.
func Memoize[T any](ctx context.Context, m *Memoizer, key string, ttl time.Duration, fn func(context.Context) (T, error)) (v T, cached bool, err error) {
	ch := m.group.DoChan(key, func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		if m.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.Timeout)
			defer cancel()
		}

		if raw, ok, getErr := m.store.Get(ctx, m.scope, key); getErr != nil {
			m.report("get", getErr)
		} else if ok {
			return flightResult{raw: raw, cached: true}, nil
		}

		val, fnErr := fn(ctx)
		if fnErr != nil {
			return nil, fnErr
		}
		raw, encErr := json.Marshal(val)
		if encErr != nil {
			return nil, encErr
		}
		if setErr := m.store.Set(ctx, m.scope, key, raw, ttl); setErr != nil {
			m.report("set", setErr)
		}
		return flightResult{raw: raw}, nil
	})

	select {
	case <-ctx.Done():
		return v, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return v, false, res.Err
		}
		fr := res.Val.(flightResult)
		if err := json.Unmarshal(fr.raw, &v); err != nil {
			// A corrupt entry is treated like a miss on the next call.
			m.report("decode", err)
			return v, false, err
		}
		return v, fr.cached, nil
	}
}

func (m *Memoizer) report(op string, err error) {
	if m.OnError != nil {
		m.OnError(op, err)
	}
}
