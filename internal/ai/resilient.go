package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/dotcommander/lore/internal/apperr"
)

// ResilienceConfig tunes the Resilient decorator.
type ResilienceConfig struct {
	RateLimit       float64 // calls per second; <= 0 disables throttling
	Burst           int
	Timeout         time.Duration // per attempt
	MaxRetries      int
	BreakerFailures int           // consecutive failures that open the breaker
	BreakerCooldown time.Duration // open -> half-open delay
	// InitialBackoff is the first retry delay. Zero means 250ms.
	InitialBackoff time.Duration
}

// Resilient guards calls to one external service with a token-bucket
// throttle, a circuit breaker, exponential retry of retryable failures and
// a per-attempt timeout. Wrap a provider with Generator and Embedder; both
// share the same breaker and limiter.
type Resilient struct {
	service string
	cfg     ResilienceConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewResilient builds the guard for service.
func NewResilient(service string, cfg ResilienceConfig) *Resilient {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 250 * time.Millisecond
	}

	failures := uint32(cfg.BreakerFailures) //nolint:gosec // clamped positive above
	r := &Resilient{
		service: service,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "service", name, "from", from.String(), "to", to.String())
		},
	})
	return r
}

// countsAsSuccess keeps caller-side failures (bad input, caller
// cancellation) from tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch apperr.CodeOf(err) {
	case apperr.CodeValidation, apperr.CodeUnavailable:
		return true
	}
	return false
}

// State reports the breaker state ("closed", "half-open", "open").
func (r *Resilient) State() string {
	return r.breaker.State().String()
}

// Do runs fn under the guard. Failures come back as ExternalServiceError
// unless fn already returned a classified error.
func (r *Resilient) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.cfg.InitialBackoff
	exp.MaxInterval = 10 * time.Second
	exp.MaxElapsedTime = 0
	var policy backoff.BackOff = backoff.WithMaxRetries(exp, uint64(r.cfg.MaxRetries)) //nolint:gosec // clamped non-negative

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(r.classify(op, err))
		}

		_, err := r.breaker.Execute(func() (any, error) {
			callCtx := ctx
			if r.cfg.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
				defer cancel()
			}
			return nil, fn(callCtx)
		})
		if err == nil {
			return nil
		}

		err = r.classify(op, err)
		if ctx.Err() == nil && apperr.IsRetryable(err) {
			slog.Debug("retrying external call", "service", r.service, "op", op, "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(policy, ctx))
}

func (r *Resilient) classify(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &apperr.ExternalServiceError{Service: r.service, Op: op, Open: true, Cause: err}
	}
	var rec interface{ ErrorCode() string }
	if errors.As(err, &rec) {
		return err
	}
	return apperr.External(r.service, op, 0, err)
}

// Generator wraps g with this guard.
func (r *Resilient) Generator(g Generator) Generator {
	return &resilientGenerator{inner: g, guard: r}
}

// Embedder wraps e with this guard.
func (r *Resilient) Embedder(e Embedder) Embedder {
	return &resilientEmbedder{inner: e, guard: r}
}

type resilientGenerator struct {
	inner Generator
	guard *Resilient
}

func (g *resilientGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	var out string
	err := g.guard.Do(ctx, "generate", func(ctx context.Context) error {
		var err error
		out, err = g.inner.Generate(ctx, req)
		return err
	})
	return out, err
}

func (g *resilientGenerator) Name() string { return g.inner.Name() }

type resilientEmbedder struct {
	inner Embedder
	guard *Resilient
}

func (e *resilientEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := e.guard.Do(ctx, "embed", func(ctx context.Context) error {
		var err error
		out, err = e.inner.Embed(ctx, texts)
		return err
	})
	return out, err
}

// EmbedQuery keeps the inner embedder's query encoding behind the guard.
func (e *resilientEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	var out []float32
	err := e.guard.Do(ctx, "embed_query", func(ctx context.Context) error {
		var err error
		out, err = EmbedQuery(ctx, e.inner, query)
		return err
	})
	return out, err
}

func (e *resilientEmbedder) Model() string { return e.inner.Model() }
