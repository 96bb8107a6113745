package ai

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lore/internal/app"
	"github.com/dotcommander/lore/internal/apperr"
)

func TestNew_Hash(t *testing.T) {
	svc, err := New(context.Background(), app.AISettings{Provider: ProviderHash})
	require.NoError(t, err)
	assert.Equal(t, ProviderHash, svc.Provider)
	require.NotNil(t, svc.Embedder)
	assert.Equal(t, "hash-256", svc.Embedder.Model())

	_, err = svc.Generator.Generate(context.Background(), userReq("x"))
	assert.Equal(t, apperr.CodeUnavailable, apperr.CodeOf(err))
}

func TestNew_None(t *testing.T) {
	svc, err := New(context.Background(), app.AISettings{Provider: ProviderNone})
	require.NoError(t, err)
	assert.Nil(t, svc.Embedder)
	assert.Equal(t, ProviderNone, svc.Generator.Name())
}

func TestNew_Ollama(t *testing.T) {
	svc, err := New(context.Background(), app.AISettings{Provider: ProviderOllama, OllamaURL: "http://127.0.0.1:1", Model: "m", EmbedModel: "e"})
	require.NoError(t, err)
	assert.Equal(t, "ollama:m", svc.Generator.Name())
	assert.Equal(t, "ollama:e", svc.Embedder.Model())
	require.NotNil(t, svc.Guard)
	assert.Equal(t, "closed", svc.Guard.State())
}

func TestNew_GeminiRequiresKey(t *testing.T) {
	_, err := New(context.Background(), app.AISettings{Provider: ProviderGemini})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestNew_Gemini(t *testing.T) {
	svc, err := New(context.Background(), app.AISettings{Provider: ProviderGemini, APIKey: "test-key", Model: "gemini-2.5-flash", EmbedModel: "gemini-embedding-001"})
	require.NoError(t, err)
	assert.Equal(t, "gemini:gemini-2.5-flash", svc.Generator.Name())
	assert.Equal(t, "gemini:gemini-embedding-001", svc.Embedder.Model())
}

func TestNew_CLIFallsBackWhenMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	svc, err := New(context.Background(), app.AISettings{Provider: ProviderCLI, CLIAgent: "claude"})
	require.NoError(t, err)
	assert.Equal(t, ProviderNone, svc.Generator.Name())
	assert.NotNil(t, svc.Embedder)
}

func TestNew_CLI(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "opencode"), []byte("#!/bin/sh\necho hi\n"), 0o755))
	t.Setenv("PATH", dir)
	t.Setenv(disableExternalLLMEnv, "")

	svc, err := New(context.Background(), app.AISettings{Provider: ProviderCLI, CLIAgent: "opencode", MaxRetries: 3})
	require.NoError(t, err)
	assert.Equal(t, "cli:opencode", svc.Generator.Name())
	assert.Equal(t, 1, svc.Guard.cfg.MaxRetries)

	out, err := svc.Generator.Generate(context.Background(), userReq("ping"))
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), app.AISettings{Provider: "openai"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
