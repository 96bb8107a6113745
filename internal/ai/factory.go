package ai

import (
	"context"
	"log/slog"

	"github.com/dotcommander/lore/internal/app"
	"github.com/dotcommander/lore/internal/apperr"
)

// Services is the configured provider pair. Embedder is nil when the
// provider offers no vectors; retrieval then runs lexical-only.
type Services struct {
	Provider  string
	Generator Generator
	Embedder  Embedder
	// Guard is the resilience wrapper around networked providers, if any.
	Guard *Resilient
}

// ResilienceFromSettings maps AI settings to the decorator config.
func ResilienceFromSettings(s app.AISettings) ResilienceConfig {
	return ResilienceConfig{
		RateLimit:       s.RateLimit,
		Burst:           s.Burst,
		Timeout:         s.Timeout,
		MaxRetries:      s.MaxRetries,
		BreakerFailures: s.BreakerFailures,
		BreakerCooldown: s.BreakerCooldown,
	}
}

// New builds the provider pair named by s.Provider.
//
//	cli    -> agent CLI generator, local hash embedder
//	gemini -> Gemini for both, behind the resilience guard
//	ollama -> Ollama for both, behind the resilience guard
//	hash   -> local hash embedder, no generator
//	none   -> no generator, no embedder
func New(ctx context.Context, s app.AISettings) (*Services, error) {
	switch s.Provider {
	case ProviderHash, "":
		return &Services{Provider: ProviderHash, Generator: Unavailable{}, Embedder: NewHashEmbedder()}, nil

	case ProviderNone:
		return &Services{Provider: ProviderNone, Generator: Unavailable{}}, nil

	case ProviderCLI:
		svc := &Services{Provider: ProviderCLI, Embedder: NewHashEmbedder()}
		c, err := NewCLI(s.CLIAgent)
		if err != nil {
			if apperr.CodeOf(err) != apperr.CodeUnavailable {
				return nil, err
			}
			slog.Warn("cli generator unavailable", "agent", s.CLIAgent, "error", err)
			svc.Generator = Unavailable{Reason: err.Error()}
			return svc, nil
		}
		guard := NewResilient("cli:"+c.Command(), ResilienceFromSettings(s))
		// A CLI run is not cheap to repeat; retry only once.
		guard.cfg.MaxRetries = min(guard.cfg.MaxRetries, 1)
		svc.Generator = guard.Generator(c)
		svc.Guard = guard
		return svc, nil

	case ProviderGemini:
		g, err := NewGemini(ctx, GeminiOptions{APIKey: s.APIKey, Model: s.Model, EmbedModel: s.EmbedModel})
		if err != nil {
			return nil, err
		}
		guard := NewResilient(geminiService, ResilienceFromSettings(s))
		return &Services{Provider: ProviderGemini, Generator: guard.Generator(g), Embedder: guard.Embedder(g), Guard: guard}, nil

	case ProviderOllama:
		o := NewOllama(s.OllamaURL, s.Model, s.EmbedModel)
		guard := NewResilient(ollamaService, ResilienceFromSettings(s))
		return &Services{Provider: ProviderOllama, Generator: guard.Generator(o), Embedder: guard.Embedder(o), Guard: guard}, nil

	default:
		return nil, &apperr.AppError{
			Code:    apperr.CodeValidation,
			Message: "unknown AI provider " + s.Provider,
			Details: map[string]string{"field": "provider", "provider": s.Provider},
			Hint:    "use one of: hash, none, cli, gemini, ollama",
		}
	}
}
