package store

import (
	"fmt"

	"github.com/dotcommander/lore/internal/models"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem scans a row selected with knowledgeColumns.
func scanItem(row rowScanner) (*models.KnowledgeItem, error) {
	var (
		item      models.KnowledgeItem
		tags      string
		metadata  string
		embedding []byte
	)
	if err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Content,
		&item.Source,
		&tags,
		&metadata,
		&item.ContentHash,
		&embedding,
		&item.EmbeddingModel,
		&item.Version,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if item.Tags, err = decodeTags(tags); err != nil {
		return nil, fmt.Errorf("item %s: %w", item.ID, err)
	}
	if item.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, fmt.Errorf("item %s: %w", item.ID, err)
	}
	if item.Embedding, err = DecodeVector(embedding); err != nil {
		return nil, fmt.Errorf("item %s: %w", item.ID, err)
	}
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return &item, nil
}
