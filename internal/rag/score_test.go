package rag

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lore/internal/models"
)

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"size", "postgres", "connection", "pool"}, Tokenize("How do I size the Postgres connection-pool? postgres!"))
	assert.Equal(t, []string{"go1", "24", "snake_case"}, Tokenize("go1.24 x snake_case"))
	assert.Empty(t, Tokenize("what is the"))
	assert.Empty(t, Tokenize("  ?! "))
}

func TestLexicalScore(t *testing.T) {
	terms := []string{"goose", "migrations"}
	title := termFrequencies("Goose migrations")
	content := termFrequencies("Goose applies migrations. Goose is embedded.")

	both := lexicalScore(terms, title, content)
	contentOnly := lexicalScore(terms, termFrequencies("Notes"), content)
	none := lexicalScore(terms, termFrequencies("Redis"), termFrequencies("eviction"))

	assert.Greater(t, both, contentOnly, "title hits weigh more")
	assert.Greater(t, contentOnly, 0.0)
	assert.Zero(t, none)
	assert.Less(t, both, 1.0)
	assert.Zero(t, lexicalScore(nil, title, content))

	partial := lexicalScore(terms, termFrequencies("Goose"), termFrequencies(""))
	assert.InDelta(t, (2.0/3)/2, partial, 1e-9)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.Zero(t, cosine([]float32{1, 0}, []float32{-1, 0}), "negative similarity clamps to 0")
	assert.Zero(t, cosine([]float32{1}, []float32{1, 0}))
	assert.Zero(t, cosine(nil, nil))
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 0}))
}

func TestHybridScore(t *testing.T) {
	assert.InDelta(t, 0.35*0.4+0.65*0.8, hybridScore(0.4, 0.8, true), 1e-9)
	assert.Equal(t, 0.4, hybridScore(0.4, 0.8, false))
}

func TestRankItems_TieBreaks(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	items := []models.ScoredItem{
		{Item: models.KnowledgeItem{ID: "b", UpdatedAt: older}, Score: 0.5},
		{Item: models.KnowledgeItem{ID: "a", UpdatedAt: older}, Score: 0.5},
		{Item: models.KnowledgeItem{ID: "c", UpdatedAt: newer}, Score: 0.5},
		{Item: models.KnowledgeItem{ID: "d", UpdatedAt: older}, Score: 0.9},
	}
	rankItems(items)

	var ids []string
	for _, si := range items {
		ids = append(ids, si.Item.ID)
	}
	assert.Equal(t, []string{"d", "c", "a", "b"}, ids)
}

func TestBuildPrompt(t *testing.T) {
	ranked := []models.ScoredItem{
		{Item: models.KnowledgeItem{ID: "1", Title: "First", Source: "a.md", Content: "alpha"}},
		{Item: models.KnowledgeItem{ID: "2", Title: "Second", Content: "beta"}},
	}
	kept, prompt, truncated := buildPrompt(ranked, 1000)
	assert.Len(t, kept, 2)
	assert.False(t, truncated)
	assert.Equal(t, "[1] First (a.md)\nalpha\n\n[2] Second\nbeta", prompt)
}

func TestBuildPrompt_SkipsWhatDoesNotFit(t *testing.T) {
	ranked := []models.ScoredItem{
		{Item: models.KnowledgeItem{ID: "1", Title: "Small", Content: "x"}},
		{Item: models.KnowledgeItem{ID: "2", Title: "Huge", Content: strings.Repeat("z", 500)}},
		{Item: models.KnowledgeItem{ID: "3", Title: "Tiny", Content: "y"}},
	}
	kept, prompt, truncated := buildPrompt(ranked, 40)
	assert.True(t, truncated)
	require.Len(t, kept, 2)
	assert.Equal(t, "1", kept[0].Item.ID)
	assert.Equal(t, "3", kept[1].Item.ID)
	assert.Equal(t, "[1] Small\nx\n\n[2] Tiny\ny", prompt, "numbering follows kept items")
}

func TestBuildPrompt_CutsOversizedBestItem(t *testing.T) {
	ranked := []models.ScoredItem{
		{Item: models.KnowledgeItem{ID: "1", Title: "Big", Content: "abcdefghijklmnopqrstuvwxyz"}},
	}
	kept, prompt, truncated := buildPrompt(ranked, 15)
	assert.True(t, truncated)
	assert.Len(t, kept, 1)
	assert.Equal(t, "[1] Big\nabcdefg", prompt)
	assert.Equal(t, "abcdefg", kept[0].Item.Content)
	assert.Equal(t, "abcdefghijklmnopqrstuvwxyz", ranked[0].Item.Content, "input untouched")
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll", truncateRunes("héllo", 4))
	assert.Equal(t, "héllo", truncateRunes("héllo", 10))
	assert.Equal(t, "", truncateRunes("héllo", 0))
}
