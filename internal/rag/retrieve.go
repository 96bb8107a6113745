package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/dotcommander/lore/internal/ai"
	"github.com/dotcommander/lore/internal/apperr"
	"github.com/dotcommander/lore/internal/models"
	"github.com/dotcommander/lore/internal/store"
)

// Retrieval limits.
const (
	MaxQueryBytes = 2000
	MaxTopK       = 50

	lexicalCandidateLimit = 200
	vectorPageSize        = 500
)

// normalizeQuery trims and validates a query or question.
func normalizeQuery(field, q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", apperr.Validation(field, "is required")
	}
	if len(q) > MaxQueryBytes {
		return "", apperr.Validation(field, fmt.Sprintf("exceeds %d bytes", MaxQueryBytes))
	}
	if strings.ContainsRune(q, 0) {
		return "", apperr.Validation(field, "contains null byte")
	}
	return q, nil
}

// searchOptions applies configured defaults and caps.
func (s *Service) searchOptions(opts models.SearchOptions) models.SearchOptions {
	if opts.TopK <= 0 {
		opts.TopK = s.cfg.TopK
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.TopK > MaxTopK {
		opts.TopK = MaxTopK
	}
	if opts.MinScore <= 0 {
		opts.MinScore = s.cfg.MinScore
	}
	if opts.MinScore > 1 {
		opts.MinScore = 1
	}
	opts.Tags = store.NormalizeTags(opts.Tags)
	return opts
}

// Retrieve ranks stored items against query and assembles the context
// block handed to a generator.
func (s *Service) Retrieve(ctx context.Context, query string, opts models.SearchOptions) (*models.RAGContext, error) {
	q, err := normalizeQuery("query", query)
	if err != nil {
		return nil, err
	}
	opts = s.searchOptions(opts)
	terms := Tokenize(q)

	queryVec := s.queryEmbedding(ctx, q)
	strategy := models.StrategyLexical
	if queryVec != nil {
		strategy = models.StrategyHybrid
	}

	model := s.EmbeddingModel()
	seen := make(map[string]struct{})
	scored := make([]models.ScoredItem, 0, opts.TopK)
	consider := func(it *models.KnowledgeItem) {
		if _, dup := seen[it.ID]; dup {
			return
		}
		seen[it.ID] = struct{}{}
		lex := lexicalScore(terms, termFrequencies(it.Title), termFrequencies(it.Content))
		var vec float64
		if queryVec != nil && it.EmbeddingModel == model {
			vec = cosine(queryVec, it.Embedding)
		}
		score := hybridScore(lex, vec, queryVec != nil)
		if score <= 0 || score < opts.MinScore {
			return
		}
		item := *it
		item.Embedding = nil
		scored = append(scored, models.ScoredItem{Item: item, Score: score, LexicalScore: lex, VectorScore: vec})
	}

	// Every embedded item is scored, a page at a time; only the running
	// top-K survives between pages.
	if queryVec != nil {
		after := ""
		for {
			page, err := s.store.EmbeddedItems(ctx, model, opts.Tags, after, s.vectorPage)
			if err != nil {
				return nil, err
			}
			for _, it := range page {
				consider(it)
			}
			if len(scored) > opts.TopK {
				rankItems(scored)
				scored = scored[:opts.TopK]
			}
			if len(page) < s.vectorPage {
				break
			}
			after = page[len(page)-1].ID
		}
	}
	if len(terms) > 0 {
		lex, err := s.store.LexicalCandidates(ctx, terms, opts.Tags, lexicalCandidateLimit)
		if err != nil {
			return nil, err
		}
		for _, it := range lex {
			consider(it)
		}
	}

	rankItems(scored)
	if len(scored) > opts.TopK {
		scored = scored[:opts.TopK]
	}

	rc := &models.RAGContext{Query: q, Strategy: strategy}
	rc.Items, rc.Prompt, rc.Truncated = buildPrompt(scored, s.maxContextChars())
	rc.Chars = utf8.RuneCountInString(rc.Prompt)
	return rc, nil
}

func (s *Service) maxContextChars() int {
	if s.cfg.MaxContextChars > 0 {
		return s.cfg.MaxContextChars
	}
	return 12000
}

// queryEmbedding embeds q through the cache. Failures are logged and
// return nil so retrieval falls back to lexical scoring.
func (s *Service) queryEmbedding(ctx context.Context, q string) []float32 {
	if s.embedder == nil {
		return nil
	}
	key := s.embedder.Model() + "\x00" + q
	if raw, ok, err := s.cache.Get(ctx, scopeEmbeddings, key); err != nil {
		slog.Warn("embedding cache read failed", "error", err)
	} else if ok {
		if v, err := store.DecodeVector(raw); err == nil && len(v) > 0 {
			return v
		}
	}

	vec, err := ai.EmbedQuery(ctx, s.embedder, q)
	if err != nil || len(vec) == 0 {
		slog.Warn("query embedding failed, using lexical retrieval", "model", s.embedder.Model(), "error", err)
		return nil
	}
	if err := s.cache.Set(ctx, scopeEmbeddings, key, store.EncodeVector(vec), s.cfg.EmbeddingTTL); err != nil {
		slog.Warn("embedding cache write failed", "error", err)
	}
	return vec
}

// formatBlock renders one numbered context entry.
func formatBlock(n int, it models.KnowledgeItem) string {
	header := fmt.Sprintf("[%d] %s", n, it.Title)
	if it.Source != "" {
		header += " (" + it.Source + ")"
	}
	return header + "\n" + it.Content
}

// buildPrompt packs ranked items into numbered blocks within budget
// characters. Items that do not fit are skipped and truncated is set.
// When not even the best item fits, its content is cut to the budget so a
// non-empty ranking never yields an empty context.
func buildPrompt(ranked []models.ScoredItem, budget int) (kept []models.ScoredItem, prompt string, truncated bool) {
	const sep = "\n\n"
	var b strings.Builder
	used := 0
	for _, si := range ranked {
		block := formatBlock(len(kept)+1, si.Item)
		need := utf8.RuneCountInString(block)
		if len(kept) > 0 {
			need += len(sep)
		}
		if used+need > budget {
			truncated = true
			continue
		}
		if len(kept) > 0 {
			b.WriteString(sep)
		}
		b.WriteString(block)
		used += need
		kept = append(kept, si)
	}

	if len(kept) == 0 && len(ranked) > 0 {
		first := ranked[0]
		header := formatBlock(1, models.KnowledgeItem{Title: first.Item.Title, Source: first.Item.Source})
		room := budget - utf8.RuneCountInString(header)
		if room > 0 {
			first.Item.Content = truncateRunes(first.Item.Content, room)
			return []models.ScoredItem{first}, header + first.Item.Content, true
		}
		return nil, "", true
	}
	return kept, b.String(), truncated
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
