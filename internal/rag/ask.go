package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dotcommander/lore/internal/ai"
	"github.com/dotcommander/lore/internal/apperr"
	"github.com/dotcommander/lore/internal/models"
	"github.com/dotcommander/lore/pkg/memo"
)

// maxHistory is how many prior turns are forwarded to the generator.
const maxHistory = 20

// NoKnowledgeAnswer is returned when retrieval finds nothing relevant.
const NoKnowledgeAnswer = "I don't have any knowledge relevant to that question yet."

const degradedAnswer = "No generation provider is available. The most relevant knowledge items are listed in sources."

const answerSystemPrompt = `You are lore, a knowledge base assistant.
Answer the user's question using only the numbered context items below.
Cite the items you rely on inline as [n]. If the context does not contain
the answer, say that you don't know. Be concise.

Context:
`

// AskOptions tunes Ask.
type AskOptions struct {
	Search models.SearchOptions
	// IncludeContext attaches the RAGContext to the answer.
	IncludeContext bool
}

// Ask retrieves context for question and has the generator answer from it.
// Identical questions over unchanged context are served from the answer
// cache, and concurrent identical asks share one generator call.
func (s *Service) Ask(ctx context.Context, question string, history []models.ChatMessage, opts AskOptions) (*models.Answer, error) {
	q, err := normalizeQuery("question", question)
	if err != nil {
		return nil, err
	}
	history, err = normalizeHistory(history)
	if err != nil {
		return nil, err
	}

	rc, err := s.Retrieve(ctx, q, opts.Search)
	if err != nil {
		return nil, err
	}

	ans := &models.Answer{Question: q, Sources: rc.Sources()}
	if opts.IncludeContext {
		ans.Context = rc
	}
	if rc.IsEmpty() {
		ans.Text = NoKnowledgeAnswer
		return ans, nil
	}

	req := ai.GenerateRequest{
		System:      answerSystemPrompt + rc.Prompt,
		Messages:    append(history, models.ChatMessage{Role: models.RoleUser, Content: q}),
		Temperature: s.temp,
	}
	key := answerKey(s.generator.Name(), q, history, rc)

	text, cached, err := memo.Memoize(ctx, s.answers, key, s.cfg.AnswerTTL, func(ctx context.Context) (string, error) {
		return s.generator.Generate(ctx, req)
	})
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeUnavailable {
			ans.Text = degradedAnswer
			ans.Degraded = true
			return ans, nil
		}
		return nil, err
	}

	ans.Text = text
	ans.Model = s.generator.Name()
	ans.Cached = cached
	return ans, nil
}

// normalizeHistory validates roles, drops empty turns and keeps the most
// recent maxHistory messages.
func normalizeHistory(history []models.ChatMessage) ([]models.ChatMessage, error) {
	out := make([]models.ChatMessage, 0, len(history))
	for i, m := range history {
		if !m.Role.Valid() {
			return nil, apperr.Validation("history", fmt.Sprintf("message %d has unknown role %q", i, m.Role))
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	if len(out) > maxHistory {
		out = out[len(out)-maxHistory:]
	}
	return out, nil
}

// answerKey identifies an answer by everything that shapes it: generator,
// question, history and the exact versions of the context items.
func answerKey(generator, question string, history []models.ChatMessage, rc *models.RAGContext) string {
	h := sha256.New()
	fmt.Fprintf(h, "gen=%s\x00q=%s\x00", generator, question)
	for _, m := range history {
		fmt.Fprintf(h, "%s=%s\x00", m.Role, m.Content)
	}
	for _, si := range rc.Items {
		fmt.Fprintf(h, "item=%s@%d\x00", si.Item.ID, si.Item.Version)
	}
	fmt.Fprintf(h, "chars=%d", rc.Chars)
	return hex.EncodeToString(h.Sum(nil))
}
