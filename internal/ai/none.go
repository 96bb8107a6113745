package ai

import (
	"context"

	"github.com/dotcommander/lore/internal/apperr"
)

// Unavailable is a Generator for deployments without a language model.
// Every call fails with UNAVAILABLE so callers can fall back to
// retrieval-only output.
type Unavailable struct {
	Reason string
}

func (u Unavailable) Generate(context.Context, GenerateRequest) (string, error) {
	reason := u.Reason
	if reason == "" {
		reason = "no generation provider configured"
	}
	return "", &apperr.AppError{
		Code:    apperr.CodeUnavailable,
		Message: reason,
		Hint:    "set ai.provider to gemini, ollama or cli (or pass --provider)",
	}
}

func (Unavailable) Name() string { return ProviderNone }
