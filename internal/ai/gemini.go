package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/dotcommander/lore/internal/apperr"
	"github.com/dotcommander/lore/internal/models"
)

const (
	geminiService = "gemini"

	// Task types for asymmetric retrieval: stored vectors and query vectors
	// are encoded differently.
	geminiDocumentTaskType = "RETRIEVAL_DOCUMENT"
	geminiQueryTaskType    = "RETRIEVAL_QUERY"
)

// Gemini generates text and embeddings through the Gemini API.
type Gemini struct {
	client     *genai.Client
	model      string
	embedModel string
}

// GeminiOptions configures NewGemini.
type GeminiOptions struct {
	APIKey     string
	Model      string
	EmbedModel string
	// BaseURL overrides the API endpoint (tests, proxies).
	BaseURL string
}

// NewGemini creates a client for the Gemini Developer API.
func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, &apperr.AppError{
			Code:    apperr.CodeValidation,
			Message: "gemini API key is required",
			Details: map[string]string{"field": "api_key"},
			Hint:    "export GEMINI_API_KEY or set ai.api_key in config.yaml",
		}
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.5-flash"
	}
	if opts.EmbedModel == "" {
		opts.EmbedModel = "gemini-embedding-001"
	}

	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Gemini{client: client, model: opts.Model, embedModel: opts.EmbedModel}, nil
}

// Generate runs one non-streaming completion.
func (g *Gemini) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	system := strings.TrimSpace(req.System)
	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		case models.RoleSystem:
			system = strings.TrimSpace(system + "\n\n" + m.Content)
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		return "", apperr.Validation("messages", "at least one user message is required")
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens) //nolint:gosec // bounded by caller
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", geminiErr("generate", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", apperr.External(geminiService, "generate", 0, errors.New("empty response"))
	}
	return text, nil
}

// Name identifies the generator.
func (g *Gemini) Name() string {
	return "gemini:" + g.model
}

// Embed embeds documents in one batch call.
func (g *Gemini) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return g.embed(ctx, texts, geminiDocumentTaskType)
}

// EmbedQuery embeds a search query with the query task type.
func (g *Gemini) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := g.embed(ctx, []string{query}, geminiQueryTaskType)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (g *Gemini) embed(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := g.client.Models.EmbedContent(ctx, g.embedModel, contents, &genai.EmbedContentConfig{
		TaskType: taskType,
	})
	if err != nil {
		return nil, geminiErr("embed", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, apperr.External(geminiService, "embed", 0,
			fmt.Errorf("got %d embeddings for %d texts", len(result.Embeddings), len(texts)))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// Model names the embedding model.
func (g *Gemini) Model() string {
	return "gemini:" + g.embedModel
}

func geminiErr(op string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apperr.External(geminiService, op, apiErr.Code, err)
	}
	return apperr.External(geminiService, op, 0, err)
}
