// Package ai is the AI service: text generation and embeddings behind two
// small interfaces, with local, CLI and hosted providers.
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotcommander/lore/internal/models"
)

// Provider names accepted in configuration.
const (
	ProviderCLI    = "cli"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
	ProviderHash   = "hash"
	ProviderNone   = "none"
)

// GenerateRequest is one chat completion call.
type GenerateRequest struct {
	System      string
	Messages    []models.ChatMessage
	Temperature float32
	MaxTokens   int
}

// Generator produces text from a conversation.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Name() string
}

// Embedder maps texts to vectors. The result has one vector per input,
// in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// QueryEmbedder is implemented by embedders whose models encode search
// queries differently from stored documents.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// EmbedQuery embeds a search query, using the query-side encoding when e
// has one.
func EmbedQuery(ctx context.Context, e Embedder, query string) ([]float32, error) {
	if qe, ok := e.(QueryEmbedder); ok {
		return qe.EmbedQuery(ctx, query)
	}
	vecs, err := e.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("got %d embeddings for 1 query", len(vecs))
	}
	return vecs[0], nil
}

// renderTranscript flattens a request into a single prompt for providers
// that only accept plain text.
func renderTranscript(req GenerateRequest) string {
	var b strings.Builder
	if s := strings.TrimSpace(req.System); s != "" {
		b.WriteString(s)
		b.WriteString("\n\n")
	}
	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleAssistant:
			b.WriteString("Assistant: ")
		case models.RoleSystem:
			b.WriteString("System: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(strings.TrimSpace(m.Content))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
