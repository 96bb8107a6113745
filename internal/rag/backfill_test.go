package rag

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lore/internal/apperr"
	"github.com/dotcommander/lore/internal/models"
)

func TestAdd_EmbedsWithCurrentModel(t *testing.T) {
	emb := newFlakyEmbedder()
	svc, st := newTestService(t, Options{Embedder: emb})

	item, created, err := svc.Add(context.Background(), &models.KnowledgeItem{Title: "T", Content: "body text"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, item.HasEmbedding())
	assert.Equal(t, "hash-256", item.EmbeddingModel)

	stored, err := st.GetItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Embedding, 256)

	// Adding the same content again reuses the stored vector.
	calls := emb.calls.Load()
	_, created, err = svc.Add(context.Background(), &models.KnowledgeItem{Title: "T", Content: "body text"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, calls, emb.calls.Load())
}

func TestAdd_EmbeddingFailureKeepsItem(t *testing.T) {
	emb := newFlakyEmbedder()
	emb.fail.Store(true)
	svc, st := newTestService(t, Options{Embedder: emb})
	ctx := context.Background()

	item, created, err := svc.Add(ctx, &models.KnowledgeItem{Title: "Offline", Content: "written while the embedder was down"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, item.HasEmbedding())
	assert.True(t, svc.backfill.Pending(), "failure schedules a backfill")

	emb.fail.Store(false)
	assert.True(t, svc.FlushBackfill())

	stored, err := st.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasEmbedding())
	assert.Equal(t, emb.Model(), stored.EmbeddingModel)
}

func TestUpdate_ReembedsChangedContent(t *testing.T) {
	emb := newFlakyEmbedder()
	svc, _ := newTestService(t, Options{Embedder: emb})
	item := addItem(t, svc, "Title", "first body", "")
	before := item.Embedding

	edit := *item
	edit.Content = "second body, different words"
	updated, err := svc.Update(context.Background(), &edit, item.Version)
	require.NoError(t, err)
	assert.Equal(t, item.Version+1, updated.Version)
	require.True(t, updated.HasEmbedding())
	assert.NotEqual(t, before, updated.Embedding)
}

func TestBackfill(t *testing.T) {
	emb := newFlakyEmbedder()
	svc, st := newTestService(t, Options{Embedder: emb})
	ctx := context.Background()

	emb.fail.Store(true)
	for i := range 20 {
		addItem(t, svc, fmt.Sprintf("note %d", i), fmt.Sprintf("content number %d", i), "")
	}
	svc.backfill.Stop()

	res, err := svc.Backfill(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Scanned)
	assert.Equal(t, 0, res.Embedded)
	assert.Equal(t, 20, res.Failed)

	emb.fail.Store(false)
	res, err = svc.Backfill(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, &BackfillResult{Model: "hash-256", Scanned: 5, Embedded: 5}, res)

	res, err = svc.Backfill(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 15, res.Scanned)
	assert.Equal(t, 15, res.Embedded)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, stats.EmbeddedItems)

	res, err = svc.Backfill(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
}

func TestBackfill_NoEmbedder(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	_, err := svc.Backfill(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnavailable, apperr.CodeOf(err))
}

func TestBackfill_Canceled(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	addItem(t, svc, "a", "needs a vector", "")

	svc.embedder = newFlakyEmbedder()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Backfill(ctx, 0)
	assert.Error(t, err)
}

func TestCountMissing(t *testing.T) {
	items := []*models.KnowledgeItem{
		{Embedding: []float32{1}, EmbeddingModel: "m"},
		{Embedding: []float32{1}, EmbeddingModel: "old"},
		{},
	}
	assert.Equal(t, 2, countMissing(items, "m"))
}
