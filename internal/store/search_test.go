package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexicalCandidates(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	pg, _, err := s.CreateItem(ctx, newItem("Postgres tuning", "Raise shared_buffers for large datasets.", "db"))
	require.NoError(t, err)
	_, _, err = s.CreateItem(ctx, newItem("Redis eviction", "allkeys-lru evicts the least recently used key.", "cache"))
	require.NoError(t, err)
	_, _, err = s.CreateItem(ctx, newItem("Percent sign", "Discount of 100% applied.", "misc"))
	require.NoError(t, err)

	got, err := s.LexicalCandidates(ctx, []string{"postgres"}, nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pg.ID, got[0].ID)

	got, err = s.LexicalCandidates(ctx, []string{"SHARED_BUFFERS", "evicts"}, nil, 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.LexicalCandidates(ctx, []string{"evicts", "shared_buffers"}, []string{"cache"}, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Redis eviction", got[0].Title)

	// '%' is matched literally.
	got, err = s.LexicalCandidates(ctx, []string{"%"}, nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Percent sign", got[0].Title)

	got, err = s.LexicalCandidates(ctx, nil, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.LexicalCandidates(ctx, []string{"  "}, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLexicalCandidates_FoldsNonASCII(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	item, _, err := s.CreateItem(ctx, newItem("Übersicht", "Straße und ÇA"))
	require.NoError(t, err)

	for _, term := range []string{"übersicht", "ÜBERSICHT", "straße", "ça"} {
		got, err := s.LexicalCandidates(ctx, []string{term}, nil, 10)
		require.NoError(t, err)
		require.Len(t, got, 1, term)
		assert.Equal(t, item.ID, got[0].ID)
	}

	edit := *item
	edit.Title = "Ärger"
	_, err = s.UpdateItem(ctx, &edit, 1)
	require.NoError(t, err)

	got, err := s.LexicalCandidates(ctx, []string{"ärger"}, nil, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	got, err = s.LexicalCandidates(ctx, []string{"übersicht"}, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, got, "update rewrites the search text")
}

func TestFillSearchText_BackfillsOldRows(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	item, _, err := s.CreateItem(ctx, newItem("Éclair", "Pâtisserie notes"))
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE knowledge SET search_text = ''`)
	require.NoError(t, err)

	got, err := s.LexicalCandidates(ctx, []string{"éclair"}, nil, 10)
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, s.fillSearchText(ctx))
	got, err = s.LexicalCandidates(ctx, []string{"éclair"}, nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, item.ID, got[0].ID)
}

func TestEmbeddedItems(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a, _, err := s.CreateItem(ctx, newItem("a", "alpha", "x"))
	require.NoError(t, err)
	b, _, err := s.CreateItem(ctx, newItem("b", "beta", "y"))
	require.NoError(t, err)
	_, _, err = s.CreateItem(ctx, newItem("c", "gamma", "x"))
	require.NoError(t, err)

	require.NoError(t, s.SetEmbedding(ctx, a.ID, []float32{1, 0}, "m"))
	require.NoError(t, s.SetEmbedding(ctx, b.ID, []float32{0, 1}, "m"))

	got, err := s.EmbeddedItems(ctx, "m", nil, "", 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	first, err := s.EmbeddedItems(ctx, "m", nil, "", 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	second, err := s.EmbeddedItems(ctx, "m", nil, first[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, []string{first[0].ID, second[0].ID})
	rest, err := s.EmbeddedItems(ctx, "m", nil, second[0].ID, 1)
	require.NoError(t, err)
	assert.Empty(t, rest)

	got, err = s.EmbeddedItems(ctx, "m", []string{"x"}, "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, []float32{1, 0}, got[0].Embedding)

	got, err = s.EmbeddedItems(ctx, "other", nil, "", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTagFilter(t *testing.T) {
	where, args := tagFilter([]string{"B", "a", "a"})
	assert.Equal(t, ` AND tags LIKE ? ESCAPE '\' AND tags LIKE ? ESCAPE '\'`, where)
	assert.Equal(t, []any{`%"a"%`, `%"b"%`}, args)

	where, args = tagFilter(nil)
	assert.Empty(t, where)
	assert.Empty(t, args)
}
