package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lore/internal/apperr"
	"github.com/dotcommander/lore/internal/models"
)

func TestOllama_Generate(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"role": "assistant", "content": " It is goose. "}})
	}))
	defer srv.Close()

	o := NewOllama(srv.URL+"/", "llama3.2", "")
	out, err := o.Generate(context.Background(), GenerateRequest{
		System:      "answer from context",
		Messages:    []models.ChatMessage{{Role: models.RoleUser, Content: "what migrates?"}},
		Temperature: 0.2,
		MaxTokens:   64,
	})
	require.NoError(t, err)
	assert.Equal(t, "It is goose.", out)
	assert.Equal(t, "ollama:llama3.2", o.Name())

	assert.Equal(t, "llama3.2", got.Model)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.EqualValues(t, 64, got.Options["num_predict"])
}

func TestOllama_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		out := make([][]float32, len(req.Input))
		for i := range req.Input {
			out[i] = []float32{float32(i), 1}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "", "")
	vs, err := o.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}}, vs)
	assert.Equal(t, "ollama:nomic-embed-text", o.Model())

	vs, err = o.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vs)
}

func TestOllama_ErrorStatus(t *testing.T) {
	cases := []struct {
		status int
		code   apperr.Code
		retry  bool
	}{
		{http.StatusTooManyRequests, apperr.CodeRateLimited, true},
		{http.StatusServiceUnavailable, apperr.CodeExternalService, true},
		{http.StatusNotFound, apperr.CodeExternalService, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"model not loaded"}`, tc.status)
		}))
		_, err := NewOllama(srv.URL, "", "").Embed(context.Background(), []string{"x"})
		srv.Close()

		require.Error(t, err)
		assert.Equal(t, tc.code, apperr.CodeOf(err), "status %d", tc.status)
		assert.Equal(t, tc.retry, apperr.IsRetryable(err), "status %d", tc.status)
		var ext *apperr.ExternalServiceError
		require.ErrorAs(t, err, &ext)
		assert.Equal(t, "ollama", ext.Service)
		assert.Equal(t, tc.status, ext.StatusCode)
	}
}

func TestOllama_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[1,2]]}`))
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL, "", "").Embed(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, apperr.ErrExternalService)
}

func TestOllama_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewOllama(url, "", "").Generate(context.Background(), userReq("x"))
	assert.ErrorIs(t, err, apperr.ErrExternalService)
}
