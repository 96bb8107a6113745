package ai

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lore/internal/apperr"
	"github.com/dotcommander/lore/internal/models"
)

func userReq(text string) GenerateRequest {
	return GenerateRequest{Messages: []models.ChatMessage{{Role: models.RoleUser, Content: text}}}
}

func TestResolveCLI_Claude(t *testing.T) {
	c, err := resolveCLI("claude")
	require.NoError(t, err)
	assert.Equal(t, "claude", c.command)
	assert.Equal(t, []string{"-p", "hello", "--output-format", "text", "--settings", claudeHooklessSettingsJSON}, c.args("hello"))
}

func TestResolveCLI_OpenCode(t *testing.T) {
	c, err := resolveCLI("opencode-worker-1")
	require.NoError(t, err)
	assert.Equal(t, "opencode", c.command)
	assert.Equal(t, []string{"run", "hello"}, c.args("hello"))
}

func TestResolveCLI_DefaultsAndCase(t *testing.T) {
	c, err := resolveCLI("")
	require.NoError(t, err)
	assert.Equal(t, "claude", c.command)

	c, err = resolveCLI("OpenCode")
	require.NoError(t, err)
	assert.Equal(t, "opencode", c.command)

	_, err = resolveCLI("some-agent")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestNewCLI_DisabledByEnv(t *testing.T) {
	t.Setenv(disableExternalLLMEnv, "1")
	_, err := NewCLI("claude")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnavailable, apperr.CodeOf(err))
}

func TestNewCLI_MissingBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	_, err := NewCLI("opencode")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnavailable, apperr.CodeOf(err))
}

func TestValidatePrompt(t *testing.T) {
	assert.Error(t, validatePrompt(""))
	assert.Error(t, validatePrompt("a\x00b"))
	assert.Error(t, validatePrompt(strings.Repeat("x", maxPromptBytes+1)))
	assert.NoError(t, validatePrompt("fine"))
}

func TestLimitedWriter(t *testing.T) {
	w := &limitedWriter{maxBytes: 4}
	n, err := w.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	n, err = w.Write([]byte("gh"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "abcd", w.buf.String())
}

func TestGenerate_WithMockScript(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "mock-claude")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"  answer for: $1  \"\n"), 0o755))

	c := &CLI{command: script, args: func(p string) []string { return []string{p} }}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := c.Generate(ctx, GenerateRequest{System: "be brief", Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "answer for: be brief"))
	assert.Contains(t, out, "User: hi")
}

func TestGenerate_FailsOnBadCommand(t *testing.T) {
	c := &CLI{command: "/nonexistent/command", args: func(p string) []string { return []string{p} }}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Generate(ctx, userReq("test"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrExternalService)
}

func TestGenerate_CapturesStderr(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "failing")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho 'quota exhausted' >&2\nexit 3\n"), 0o755))

	c := &CLI{command: script, args: func(p string) []string { return []string{p} }}
	_, err := c.Generate(context.Background(), userReq("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exhausted")
}

func TestGenerate_EmptyOutputIsError(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "silent")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	c := &CLI{command: script, args: func(p string) []string { return []string{p} }}
	_, err := c.Generate(context.Background(), userReq("x"))
	assert.ErrorIs(t, err, apperr.ErrExternalService)
}

// TestGenerate_ClaudeDispatch verifies the claude path builds correct args
// through a mock script named "claude" on PATH.
func TestGenerate_ClaudeDispatch(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "claude")
	require.NoError(t, os.WriteFile(script, []byte(`#!/bin/sh
if [ "$1" != "-p" ]; then
  echo "expected -p as first arg, got $1" >&2
  exit 1
fi
if [ "$3" != "--output-format" ] || [ "$4" != "text" ]; then
  echo "expected --output-format text" >&2
  exit 1
fi
echo 'Goose runs migrations [1].'
`), 0o755))

	t.Setenv("PATH", dir)
	t.Setenv(disableExternalLLMEnv, "")

	c, err := NewCLI("claude")
	require.NoError(t, err)
	assert.Equal(t, "claude", c.Command())
	assert.Equal(t, "cli:claude", c.Name())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := c.Generate(ctx, userReq("what runs migrations?"))
	require.NoError(t, err)
	assert.Equal(t, "Goose runs migrations [1].", out)
}

func TestRenderTranscript(t *testing.T) {
	got := renderTranscript(GenerateRequest{
		System: " sys ",
		Messages: []models.ChatMessage{
			{Role: models.RoleUser, Content: "q1"},
			{Role: models.RoleAssistant, Content: "a1"},
			{Role: models.RoleUser, Content: "q2"},
		},
	})
	assert.Equal(t, "sys\n\nUser: q1\n\nAssistant: a1\n\nUser: q2", got)
}
