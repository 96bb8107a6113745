package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/dotcommander/lore/internal/apperr"
)

const disableExternalLLMEnv = "LORE_DISABLE_EXTERNAL_LLM"

const claudeHooklessSettingsJSON = `{"hooks":{}}`

// maxPromptBytes bounds a prompt passed on a command line.
const maxPromptBytes = 48000

// validatePrompt checks for unsafe characters in prompts.
// While Go's exec avoids shell injection (no shell involved),
// external CLIs may be shell scripts.
func validatePrompt(s string) error {
	if len(s) == 0 {
		return errors.New("empty prompt")
	}
	if len(s) > maxPromptBytes {
		return fmt.Errorf("prompt exceeds %d byte limit (%d bytes)", maxPromptBytes, len(s))
	}
	if strings.ContainsRune(s, 0) {
		return errors.New("prompt contains null byte")
	}
	return nil
}

// CLI is a Generator that shells out to an agent CLI.
// "claude" agents use `claude -p`, "opencode" agents use `opencode run`.
// No API keys required; the CLIs handle their own auth.
type CLI struct {
	command string
	args    func(prompt string) []string
}

// NewCLI returns a CLI generator for the given agent name.
// Returns error if agent type is unknown or CLI binary is not found in PATH.
func NewCLI(agentName string) (*CLI, error) {
	if strings.TrimSpace(os.Getenv(disableExternalLLMEnv)) != "" {
		return nil, apperr.New(apperr.CodeUnavailable, "external LLM CLI execution disabled by "+disableExternalLLMEnv)
	}

	c, err := resolveCLI(agentName)
	if err != nil {
		return nil, err
	}
	if _, err := exec.LookPath(c.command); err != nil {
		return nil, &apperr.AppError{
			Code:    apperr.CodeUnavailable,
			Message: fmt.Sprintf("cli tool %q not found in PATH", c.command),
			Hint:    "install the CLI or choose another provider with --provider",
			Cause:   err,
		}
	}
	return c, nil
}

// resolveCLI maps agent name to CLI command + arg builder.
// Returns error for unknown agent types. Empty string defaults to claude.
func resolveCLI(agentName string) (*CLI, error) {
	name := strings.ToLower(strings.TrimSpace(agentName))
	switch {
	case strings.HasPrefix(name, "opencode"):
		return &CLI{
			command: "opencode",
			args:    func(p string) []string { return []string{"run", p} },
		}, nil
	case strings.HasPrefix(name, "claude"), name == "":
		return &CLI{
			command: "claude",
			args: func(p string) []string {
				return []string{"-p", p, "--output-format", "text", "--settings", claudeHooklessSettingsJSON}
			},
		}, nil
	default:
		return nil, apperr.Validation("cli_agent", fmt.Sprintf("unknown agent type %q (supported: claude, opencode)", agentName))
	}
}

// limitedWriter caps writes at maxBytes, silently discarding overflow.
// Keeps a misbehaving CLI from growing stderr without bound.
type limitedWriter struct {
	buf      bytes.Buffer
	maxBytes int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	originalLen := len(p)
	remaining := w.maxBytes - w.buf.Len()
	if remaining <= 0 {
		return originalLen, nil // discard but report success
	}
	if len(p) > remaining {
		p = p[:remaining]
	}
	w.buf.Write(p)
	return originalLen, nil // always report original len to avoid short write errors
}

// Generate runs the CLI with the flattened conversation and returns its
// trimmed stdout.
func (c *CLI) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	prompt := renderTranscript(req)
	if err := validatePrompt(prompt); err != nil {
		return "", apperr.Validation("prompt", err.Error())
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context expired before exec: %w", err)
	}
	cmd := exec.CommandContext(ctx, c.command, c.args(prompt)...) //nolint:gosec // G204: command is a known agent CLI resolved at construction
	cmd.Env = os.Environ()

	var stdout bytes.Buffer
	stderrW := &limitedWriter{maxBytes: 4096}
	cmd.Stdout = &stdout
	cmd.Stderr = stderrW

	if err := cmd.Run(); err != nil {
		stderrMsg := stderrW.buf.String()
		if stderrW.buf.Len() >= stderrW.maxBytes {
			stderrMsg += " (truncated)"
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return "", apperr.External("cli:"+c.command, "generate", 0, fmt.Errorf("%w (stderr: %s)", err, strings.TrimSpace(stderrMsg)))
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", apperr.External("cli:"+c.command, "generate", 0, errors.New("empty response"))
	}
	return out, nil
}

// Name identifies the generator in logs and answers.
func (c *CLI) Name() string {
	return "cli:" + c.command
}

// Command returns the CLI command name.
func (c *CLI) Command() string {
	return c.command
}
