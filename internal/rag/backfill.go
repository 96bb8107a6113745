package rag

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/lore/internal/apperr"
	"github.com/dotcommander/lore/internal/models"
)

const (
	// DefaultBackfillBatch is how many items one Backfill call scans.
	DefaultBackfillBatch = 100

	// embedBatchSize is how many texts go to the embedder per call.
	embedBatchSize = 16

	scheduledBackfillTimeout = 2 * time.Minute
)

// BackfillResult reports one backfill pass.
type BackfillResult struct {
	Model    string `json:"model"`
	Scanned  int    `json:"scanned"`
	Embedded int    `json:"embedded"`
	Failed   int    `json:"failed"`
}

// Backfill embeds up to batch items that lack a vector from the current
// model. Embedder calls run concurrently up to the configured worker
// count; a failed sub-batch is counted and logged, not fatal.
func (s *Service) Backfill(ctx context.Context, batch int) (*BackfillResult, error) {
	if s.embedder == nil {
		return nil, &apperr.AppError{
			Code:    apperr.CodeUnavailable,
			Message: "no embedding provider configured",
			Hint:    "set ai.provider to hash, gemini or ollama",
		}
	}
	if batch <= 0 {
		batch = DefaultBackfillBatch
	}

	items, err := s.store.ItemsMissingEmbedding(ctx, s.embedder.Model(), batch)
	if err != nil {
		return nil, err
	}
	res := &BackfillResult{Model: s.embedder.Model(), Scanned: len(items)}
	if len(items) == 0 {
		return res, nil
	}

	workers := s.cfg.BackfillWorkers
	if workers <= 0 {
		workers = 4
	}

	var embedded, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < len(items); start += embedBatchSize {
		chunk := items[start:min(start+embedBatchSize, len(items))]
		g.Go(func() error {
			if err := s.embedItems(gctx, chunk); err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				missing := countMissing(chunk, res.Model)
				failed.Add(int64(missing))
				embedded.Add(int64(len(chunk) - missing))
				slog.Warn("backfill batch failed", "items", len(chunk), "error", err)
				return nil
			}
			embedded.Add(int64(len(chunk)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res.Embedded = int(embedded.Load())
	res.Failed = int(failed.Load())
	return res, nil
}

func countMissing(items []*models.KnowledgeItem, model string) int {
	n := 0
	for _, it := range items {
		if !it.HasEmbedding() || it.EmbeddingModel != model {
			n++
		}
	}
	return n
}

// ScheduleBackfill requests a backfill once activity quiets down. Bursts
// of calls collapse into a single pass.
func (s *Service) ScheduleBackfill() {
	s.backfill.Trigger()
}

// FlushBackfill runs a scheduled backfill now, if one is pending.
func (s *Service) FlushBackfill() bool {
	return s.backfill.Flush()
}

func (s *Service) runScheduledBackfill() {
	ctx, cancel := context.WithTimeout(context.Background(), scheduledBackfillTimeout)
	defer cancel()
	res, err := s.Backfill(ctx, DefaultBackfillBatch)
	if err != nil {
		slog.Warn("scheduled backfill failed", "error", err)
		return
	}
	slog.Info("scheduled backfill finished", "scanned", res.Scanned, "embedded", res.Embedded, "failed", res.Failed)
}
