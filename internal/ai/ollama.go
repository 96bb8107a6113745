package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dotcommander/lore/internal/apperr"
)

const ollamaService = "ollama"

// Ollama talks to a local Ollama server for chat and embeddings.
type Ollama struct {
	endpoint   string
	model      string
	embedModel string
	client     *http.Client
}

// NewOllama creates an Ollama client. Timeouts come from the caller's
// context; the HTTP client only bounds connection setup.
func NewOllama(endpoint, model, embedModel string) *Ollama {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}
	return &Ollama{
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      model,
		embedModel: embedModel,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 5 * time.Minute,
				TLSHandshakeTimeout:   10 * time.Second,
			},
		},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error,omitempty"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Generate calls /api/chat without streaming.
func (o *Ollama) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	msgs := make([]ollamaMessage, 0, len(req.Messages)+1)
	if s := strings.TrimSpace(req.System); s != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: s})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}
	opts := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}

	var resp ollamaChatResponse
	if err := o.post(ctx, "chat", "/api/chat", ollamaChatRequest{Model: o.model, Messages: msgs, Options: opts}, &resp); err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", apperr.External(ollamaService, "chat", 0, errors.New("empty response"))
	}
	return text, nil
}

// Name identifies the generator.
func (o *Ollama) Name() string {
	return "ollama:" + o.model
}

// Embed calls /api/embed with the whole batch.
func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp ollamaEmbedResponse
	if err := o.post(ctx, "embed", "/api/embed", ollamaEmbedRequest{Model: o.embedModel, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, apperr.External(ollamaService, "embed", 0,
			fmt.Errorf("got %d embeddings for %d texts", len(resp.Embeddings), len(texts)))
	}
	return resp.Embeddings, nil
}

// Model names the embedding model.
func (o *Ollama) Model() string {
	return "ollama:" + o.embedModel
}

func (o *Ollama) post(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return apperr.External(ollamaService, op, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return apperr.External(ollamaService, op, resp.StatusCode,
			fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.External(ollamaService, op, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
