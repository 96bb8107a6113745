package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lore/internal/ai"
	"github.com/dotcommander/lore/internal/apperr"
	"github.com/dotcommander/lore/internal/models"
)

func TestAsk_NoContextSkipsGenerator(t *testing.T) {
	gen := &fakeGenerator{reply: "should not be used"}
	svc, _ := newTestService(t, Options{Generator: gen})

	ans, err := svc.Ask(context.Background(), "what about kubernetes?", nil, AskOptions{})
	require.NoError(t, err)
	assert.Equal(t, NoKnowledgeAnswer, ans.Text)
	assert.Empty(t, ans.Sources)
	assert.Zero(t, gen.Calls())
}

func TestAsk_GeneratesFromContext(t *testing.T) {
	gen := &fakeGenerator{reply: "Use about twice the CPU cores [1]."}
	svc, _ := newTestService(t, Options{Embedder: ai.NewHashEmbedder(), Generator: gen, Temperature: 0.2})
	pg, _, _ := seedCorpus(t, svc)

	history := []models.ChatMessage{
		{Role: models.RoleUser, Content: "we run postgres"},
		{Role: models.RoleAssistant, Content: "noted"},
		{Role: models.RoleUser, Content: "   "},
	}
	ans, err := svc.Ask(context.Background(), "How large should the postgres connection pool be?", history, AskOptions{IncludeContext: true})
	require.NoError(t, err)

	assert.Equal(t, "Use about twice the CPU cores [1].", ans.Text)
	assert.Equal(t, "fake", ans.Model)
	assert.False(t, ans.Cached)
	require.NotEmpty(t, ans.Sources)
	assert.Equal(t, pg.ID, ans.Sources[0].ID)
	require.NotNil(t, ans.Context)
	assert.Equal(t, pg.ID, ans.Context.Items[0].Item.ID)

	req := gen.lastReq
	assert.Contains(t, req.System, "Cite the items")
	assert.Contains(t, req.System, "[1] Postgres connection pooling (docs/pg.md)")
	require.Len(t, req.Messages, 3, "blank history turn is dropped")
	assert.Equal(t, models.RoleUser, req.Messages[2].Role)
	assert.Equal(t, "How large should the postgres connection pool be?", req.Messages[2].Content)
	assert.InDelta(t, 0.2, req.Temperature, 1e-6)
}

func TestAsk_ContextOmittedByDefault(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	svc, _ := newTestService(t, Options{Generator: gen})
	seedCorpus(t, svc)

	ans, err := svc.Ask(context.Background(), "redis eviction", nil, AskOptions{})
	require.NoError(t, err)
	assert.Nil(t, ans.Context)
}

func TestAsk_MemoizesAnswers(t *testing.T) {
	gen := &fakeGenerator{reply: "cached answer"}
	svc, _ := newTestService(t, Options{Generator: gen})
	_, redis, _ := seedCorpus(t, svc)
	ctx := context.Background()

	first, err := svc.Ask(ctx, "redis eviction", nil, AskOptions{})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.Ask(ctx, "redis eviction", nil, AskOptions{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, 1, gen.Calls())

	// A different history is a different conversation.
	_, err = svc.Ask(ctx, "redis eviction", []models.ChatMessage{{Role: models.RoleUser, Content: "context"}}, AskOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, gen.Calls())

	// Editing a context item invalidates the cached answer.
	edit := *redis
	edit.Content = redis.Content + " volatile-lru only considers keys with a TTL."
	_, err = svc.Update(ctx, &edit, redis.Version)
	require.NoError(t, err)

	third, err := svc.Ask(ctx, "redis eviction", nil, AskOptions{})
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, 3, gen.Calls())
}

func TestAsk_CollapsesConcurrentAsks(t *testing.T) {
	gen := &fakeGenerator{reply: "slow answer", delay: 50 * time.Millisecond}
	svc, _ := newTestService(t, Options{Generator: gen})
	seedCorpus(t, svc)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ans, err := svc.Ask(context.Background(), "redis eviction", nil, AskOptions{})
			assert.NoError(t, err)
			if ans != nil {
				assert.Equal(t, "slow answer", ans.Text)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, gen.Calls())
}

func TestAsk_DegradesWithoutGenerator(t *testing.T) {
	svc, _ := newTestService(t, Options{Generator: ai.Unavailable{}})
	_, redis, _ := seedCorpus(t, svc)

	ans, err := svc.Ask(context.Background(), "redis eviction", nil, AskOptions{})
	require.NoError(t, err)
	assert.True(t, ans.Degraded)
	assert.Empty(t, ans.Model)
	require.NotEmpty(t, ans.Sources)
	assert.Equal(t, redis.ID, ans.Sources[0].ID)
}

func TestAsk_GeneratorFailure(t *testing.T) {
	gen := &fakeGenerator{err: apperr.External("fake", "generate", 502, errors.New("bad gateway"))}
	svc, _ := newTestService(t, Options{Generator: gen})
	seedCorpus(t, svc)

	_, err := svc.Ask(context.Background(), "redis eviction", nil, AskOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrExternalService)

	// Failures are not cached.
	gen.mu.Lock()
	gen.err = nil
	gen.reply = "recovered"
	gen.mu.Unlock()
	ans, err := svc.Ask(context.Background(), "redis eviction", nil, AskOptions{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", ans.Text)
}

func TestAsk_Validation(t *testing.T) {
	svc, _ := newTestService(t, Options{Generator: &fakeGenerator{}})

	_, err := svc.Ask(context.Background(), "", nil, AskOptions{})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Ask(context.Background(), "ok?", []models.ChatMessage{{Role: "robot", Content: "beep"}}, AskOptions{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestNormalizeHistory_KeepsMostRecent(t *testing.T) {
	var history []models.ChatMessage
	for i := range maxHistory + 5 {
		history = append(history, models.ChatMessage{Role: models.RoleUser, Content: strings.Repeat("m", i+1)})
	}
	got, err := normalizeHistory(history)
	require.NoError(t, err)
	require.Len(t, got, maxHistory)
	assert.Equal(t, history[len(history)-1], got[len(got)-1])
	assert.Equal(t, history[5], got[0])
}

func TestAnswerKey_Sensitivity(t *testing.T) {
	rc := &models.RAGContext{Items: []models.ScoredItem{{Item: models.KnowledgeItem{ID: "kn_1", Version: 1}}}}
	base := answerKey("g", "q", nil, rc)
	assert.Equal(t, base, answerKey("g", "q", nil, rc))
	assert.NotEqual(t, base, answerKey("other", "q", nil, rc))
	assert.NotEqual(t, base, answerKey("g", "q2", nil, rc))

	bumped := &models.RAGContext{Items: []models.ScoredItem{{Item: models.KnowledgeItem{ID: "kn_1", Version: 2}}}}
	assert.NotEqual(t, base, answerKey("g", "q", nil, bumped))
}
