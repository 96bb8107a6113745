package rag

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lore/internal/ai"
	"github.com/dotcommander/lore/internal/app"
	"github.com/dotcommander/lore/internal/apperr"
	"github.com/dotcommander/lore/internal/models"
	"github.com/dotcommander/lore/internal/store"
)

func testSettings() app.RAGSettings {
	return app.RAGSettings{
		TopK:            5,
		MinScore:        0.05,
		MaxContextChars: 12000,
		ChunkSize:       1500,
		ChunkOverlap:    200,
		AnswerTTL:       time.Minute,
		EmbeddingTTL:    time.Minute,
		BackfillWorkers: 2,
	}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "lore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestService(t *testing.T, opts Options) (*Service, *store.Store) {
	t.Helper()
	st := openTestStore(t)
	if opts.Settings == (app.RAGSettings{}) {
		opts.Settings = testSettings()
	}
	svc := New(st, opts)
	t.Cleanup(svc.Close)
	return svc, st
}

func addItem(t *testing.T, svc *Service, title, content, source string, tags ...string) *models.KnowledgeItem {
	t.Helper()
	item, _, err := svc.Add(context.Background(), &models.KnowledgeItem{Title: title, Content: content, Source: source, Tags: tags})
	require.NoError(t, err)
	return item
}

// fakeGenerator records requests and replies with a fixed answer.
type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	reply   string
	err     error
	lastReq ai.GenerateRequest
	delay   time.Duration
}

func (g *fakeGenerator) Generate(ctx context.Context, req ai.GenerateRequest) (string, error) {
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.lastReq = req
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// flakyEmbedder wraps the hash embedder and can be switched to fail.
type flakyEmbedder struct {
	inner *ai.HashEmbedder
	fail  atomic.Bool
	calls atomic.Int32
	texts atomic.Int32
}

func newFlakyEmbedder() *flakyEmbedder {
	return &flakyEmbedder{inner: ai.NewHashEmbedder()}
}

func (e *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	e.texts.Add(int32(len(texts))) //nolint:gosec // test sizes are tiny
	if e.fail.Load() {
		return nil, apperr.External("fake-embed", "embed", 503, errors.New("embedder down"))
	}
	return e.inner.Embed(ctx, texts)
}

func (e *flakyEmbedder) Model() string { return e.inner.Model() }

// memArchive is an in-memory Archiver.
type memArchive struct {
	mu   sync.Mutex
	objs map[string][]byte
	ct   map[string]string
}

func (a *memArchive) Put(_ context.Context, name string, content []byte, contentType string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objs == nil {
		a.objs = map[string][]byte{}
		a.ct = map[string]string{}
	}
	key := "documents/test/" + filepath.Base(name)
	a.objs[key] = append([]byte(nil), content...)
	a.ct[key] = contentType
	return key, nil
}
