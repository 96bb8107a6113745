// Package rag is the retrieval-augmented generation service: it keeps
// knowledge items and their embeddings in sync, ranks them against a
// query and asks a generator to answer from the best matches.
package rag

import (
	"context"
	"log/slog"
	"time"

	"github.com/dotcommander/lore/internal/ai"
	"github.com/dotcommander/lore/internal/app"
	"github.com/dotcommander/lore/internal/apperr"
	"github.com/dotcommander/lore/internal/cache"
	"github.com/dotcommander/lore/internal/models"
	"github.com/dotcommander/lore/pkg/memo"
)

// Store is the persistence the service needs. *store.Store satisfies it.
type Store interface {
	CreateItem(ctx context.Context, item *models.KnowledgeItem) (*models.KnowledgeItem, bool, error)
	GetItem(ctx context.Context, id string) (*models.KnowledgeItem, error)
	UpdateItem(ctx context.Context, item *models.KnowledgeItem, expectedVersion int) (*models.KnowledgeItem, error)
	DeleteItem(ctx context.Context, id string) error
	ListItems(ctx context.Context, opts models.ListOptions) ([]*models.KnowledgeItem, int, error)
	SetEmbedding(ctx context.Context, id string, vec []float32, model string) error
	ItemsMissingEmbedding(ctx context.Context, model string, limit int) ([]*models.KnowledgeItem, error)
	LexicalCandidates(ctx context.Context, terms, tags []string, limit int) ([]*models.KnowledgeItem, error)
	EmbeddedItems(ctx context.Context, model string, tags []string, afterID string, limit int) ([]*models.KnowledgeItem, error)
	Stats(ctx context.Context) (models.Stats, error)
}

// Archiver keeps raw ingested documents. *blob.Store satisfies it.
type Archiver interface {
	Put(ctx context.Context, name string, content []byte, contentType string) (string, error)
}

// Cache scopes.
const (
	scopeEmbeddings = "embeddings"
	scopeAnswers    = "answers"
)

// backfillDelay is the quiet period before a scheduled backfill runs.
const backfillDelay = 2 * time.Second

// answerTimeout caps a shared answer generation once it no longer follows
// any single caller's context.
const answerTimeout = 10 * time.Minute

// Options wires a Service. Only Store is required.
type Options struct {
	Embedder  ai.Embedder  // nil: lexical retrieval only
	Generator ai.Generator // nil: ai.Unavailable
	Cache     cache.Cache  // nil: in-process memory cache
	Archive   Archiver     // nil: Ingest cannot archive
	Settings  app.RAGSettings
	// Temperature is passed to the generator.
	Temperature float64
}

// Service is the RAG service.
type Service struct {
	store     Store
	embedder  ai.Embedder
	generator ai.Generator
	cache     cache.Cache
	archive   Archiver
	cfg       app.RAGSettings
	temp      float32

	answers  *memo.Memoizer
	backfill *memo.Debouncer

	vectorPage int
}

// New builds a Service.
func New(st Store, opts Options) *Service {
	s := &Service{
		store:     st,
		embedder:  opts.Embedder,
		generator: opts.Generator,
		cache:     opts.Cache,
		archive:   opts.Archive,
		cfg:       opts.Settings,
		temp:      float32(opts.Temperature),

		vectorPage: vectorPageSize,
	}
	if s.generator == nil {
		s.generator = ai.Unavailable{}
	}
	if s.cache == nil {
		s.cache = cache.NewMemory(cache.DefaultMaxEntries)
	}
	s.answers = memo.NewMemoizer(s.cache, scopeAnswers)
	s.answers.Timeout = answerTimeout
	s.answers.OnError = func(op string, err error) {
		slog.Warn("answer cache error", "op", op, "error", err)
	}
	s.backfill = memo.NewDebouncer(backfillDelay, s.runScheduledBackfill)
	return s
}

// Close cancels any pending scheduled backfill.
func (s *Service) Close() {
	s.backfill.Stop()
}

// EmbeddingModel returns the active vector model, or "" without an embedder.
func (s *Service) EmbeddingModel() string {
	if s.embedder == nil {
		return ""
	}
	return s.embedder.Model()
}

// GeneratorName returns the active generator name.
func (s *Service) GeneratorName() string {
	return s.generator.Name()
}

// Add stores item and embeds it. An embedding failure does not fail the
// call: the item is kept and a backfill is scheduled.
func (s *Service) Add(ctx context.Context, item *models.KnowledgeItem) (*models.KnowledgeItem, bool, error) {
	stored, created, err := s.store.CreateItem(ctx, item)
	if err != nil {
		return nil, false, err
	}
	if !stored.HasEmbedding() || stored.EmbeddingModel != s.EmbeddingModel() {
		s.embedOrSchedule(ctx, []*models.KnowledgeItem{stored})
	}
	return stored, created, nil
}

// Update applies an optimistic update and refreshes the embedding when the
// store dropped it.
func (s *Service) Update(ctx context.Context, item *models.KnowledgeItem, expectedVersion int) (*models.KnowledgeItem, error) {
	updated, err := s.store.UpdateItem(ctx, item, expectedVersion)
	if err != nil {
		return nil, err
	}
	if !updated.HasEmbedding() {
		s.embedOrSchedule(ctx, []*models.KnowledgeItem{updated})
	}
	return updated, nil
}

// Delete removes an item.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteItem(ctx, id)
}

// Get loads an item.
func (s *Service) Get(ctx context.Context, id string) (*models.KnowledgeItem, error) {
	return s.store.GetItem(ctx, id)
}

// List pages through items.
func (s *Service) List(ctx context.Context, opts models.ListOptions) ([]*models.KnowledgeItem, int, error) {
	return s.store.ListItems(ctx, opts)
}

// Stats summarises the knowledge base.
func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	return s.store.Stats(ctx)
}

// embedOrSchedule embeds items in place; on failure it logs and schedules
// a backfill.
func (s *Service) embedOrSchedule(ctx context.Context, items []*models.KnowledgeItem) {
	if s.embedder == nil || len(items) == 0 {
		return
	}
	if err := s.embedItems(ctx, items); err != nil {
		slog.Warn("embedding deferred to backfill", "items", len(items), "model", s.embedder.Model(), "error", err)
		s.ScheduleBackfill()
	}
}

// embedItems embeds and persists vectors for items, updating them in place.
func (s *Service) embedItems(ctx context.Context, items []*models.KnowledgeItem) error {
	if s.embedder == nil {
		return apperr.New(apperr.CodeUnavailable, "no embedding provider configured")
	}
	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = embeddingText(it)
	}
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	model := s.embedder.Model()
	for i, it := range items {
		if i >= len(vecs) || len(vecs[i]) == 0 {
			continue
		}
		if err := s.store.SetEmbedding(ctx, it.ID, vecs[i], model); err != nil {
			return err
		}
		it.Embedding, it.EmbeddingModel = vecs[i], model
	}
	return nil
}

// embeddingText is what gets embedded for an item.
func embeddingText(it *models.KnowledgeItem) string {
	return it.Title + "\n\n" + it.Content
}
