package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dotcommander/lore/internal/apperr"
	"github.com/dotcommander/lore/internal/models"
)

// Size limits for knowledge items.
const (
	MaxTitleBytes   = 512
	MaxContentBytes = 64 * 1024
	MaxSourceBytes  = 2048

	defaultListLimit = 50
	maxListLimit     = 500
)

const knowledgeColumns = `id, title, content, source, tags, metadata, content_hash,
	embedding, embedding_model, version, created_at, updated_at`

// ValidateItem checks the user-supplied fields of an item.
func ValidateItem(item *models.KnowledgeItem) error {
	if item == nil {
		return apperr.Validation("item", "is required")
	}
	title := strings.TrimSpace(item.Title)
	if title == "" {
		return apperr.Validation("title", "is required")
	}
	if len(title) > MaxTitleBytes {
		return apperr.Validation("title", fmt.Sprintf("exceeds %d bytes", MaxTitleBytes))
	}
	content := strings.TrimSpace(item.Content)
	if content == "" {
		return apperr.Validation("content", "is required")
	}
	if len(content) > MaxContentBytes {
		return apperr.Validation("content", fmt.Sprintf("exceeds %d bytes", MaxContentBytes))
	}
	if len(item.Source) > MaxSourceBytes {
		return apperr.Validation("source", fmt.Sprintf("exceeds %d bytes", MaxSourceBytes))
	}
	if strings.ContainsRune(item.Content, 0) || strings.ContainsRune(item.Title, 0) {
		return apperr.Validation("content", "contains null byte")
	}
	return nil
}

// normalizeItem trims fields, canonicalizes tags and recomputes the hash.
func normalizeItem(item *models.KnowledgeItem) {
	item.Title = strings.TrimSpace(item.Title)
	item.Content = strings.TrimSpace(item.Content)
	item.Source = strings.TrimSpace(item.Source)
	item.Tags = NormalizeTags(item.Tags)
	item.ContentHash = ContentHash(item.Content)
}

// CreateItem stores a new knowledge item. When an item with identical
// content already exists the stored item is returned and created is false.
func (s *Store) CreateItem(ctx context.Context, item *models.KnowledgeItem) (stored *models.KnowledgeItem, created bool, err error) {
	if err := ValidateItem(item); err != nil {
		return nil, false, err
	}
	in := *item
	normalizeItem(&in)

	tags, err := encodeTags(in.Tags)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.CodeInternal, "encode tags", err)
	}
	meta, err := encodeMetadata(in.Metadata)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.CodeInternal, "encode metadata", err)
	}

	if in.ID == "" {
		in.ID = generatePrefixedID("kn")
	}
	now := time.Now().UTC()
	in.Version = 1
	in.CreatedAt = now
	in.UpdatedAt = now

	err = s.Transact(ctx, func(tx *sql.Tx) error {
		existing, lookupErr := s.getByHash(ctx, tx, in.ContentHash)
		if lookupErr != nil {
			return lookupErr
		}
		if existing != nil {
			stored, created = existing, false
			return nil
		}

		inserted, execErr := s.insertItem(ctx, tx, &in, tags, meta)
		if execErr != nil {
			if IsUniqueConstraintErr(execErr) {
				return &apperr.AppError{
					Code:    apperr.CodeConflict,
					Message: "knowledge id already exists",
					Details: map[string]string{"id": in.ID},
					Cause:   execErr,
				}
			}
			return execErr
		}
		if !inserted {
			// A concurrent insert of the same content won the race.
			existing, lookupErr := s.getByHash(ctx, tx, in.ContentHash)
			if lookupErr != nil {
				return lookupErr
			}
			if existing == nil {
				return &apperr.AppError{
					Code:    apperr.CodeConflict,
					Message: "knowledge content changed concurrently",
					Details: map[string]string{"content_hash": in.ContentHash},
				}
			}
			stored, created = existing, false
			return nil
		}
		stored, created = &in, true
		return nil
	})
	if err != nil {
		return nil, false, dbErr("insert", entityKnowledge, in.ID, err)
	}
	return stored, created, nil
}

// insertItem inserts in unless its content hash is already stored, in which
// case inserted is false. ON CONFLICT keeps the transaction usable on
// Postgres, where a failed INSERT would abort it. Other unique violations
// (a reused id) are still returned.
func (s *Store) insertItem(ctx context.Context, q Querier, in *models.KnowledgeItem, tags, meta string) (inserted bool, err error) {
	res, err := q.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO knowledge (
			id, title, content, source, tags, metadata, content_hash,
			embedding, embedding_model, version, created_at, updated_at, search_text
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_hash) DO NOTHING
	`), in.ID, in.Title, in.Content, in.Source, tags, meta, in.ContentHash,
		EncodeVector(in.Embedding), in.EmbeddingModel, in.Version, in.CreatedAt, in.UpdatedAt,
		searchText(in.Title, in.Content))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetItem loads one item by id.
func (s *Store) GetItem(ctx context.Context, id string) (*models.KnowledgeItem, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("id", "is required")
	}
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+knowledgeColumns+` FROM knowledge WHERE id = ?`), id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(entityKnowledge, id)
	}
	if err != nil {
		return nil, dbErr("get", entityKnowledge, id, err)
	}
	return item, nil
}

func (s *Store) getByHash(ctx context.Context, q Querier, hash string) (*models.KnowledgeItem, error) {
	row := q.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+knowledgeColumns+` FROM knowledge WHERE content_hash = ?`), hash)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateItem replaces the mutable fields of an item if its stored version
// equals expectedVersion. The embedding is cleared when the title or
// content changes so a stale vector is never served.
func (s *Store) UpdateItem(ctx context.Context, item *models.KnowledgeItem, expectedVersion int) (*models.KnowledgeItem, error) {
	if err := ValidateItem(item); err != nil {
		return nil, err
	}
	if strings.TrimSpace(item.ID) == "" {
		return nil, apperr.Validation("id", "is required")
	}
	if expectedVersion <= 0 {
		return nil, apperr.Validation("version", "must be > 0")
	}
	in := *item
	normalizeItem(&in)

	tags, err := encodeTags(in.Tags)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "encode tags", err)
	}
	meta, err := encodeMetadata(in.Metadata)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "encode metadata", err)
	}

	var updated *models.KnowledgeItem
	err = s.Transact(ctx, func(tx *sql.Tx) error {
		current, err := scanItem(tx.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+knowledgeColumns+` FROM knowledge WHERE id = ?`), in.ID))
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound(entityKnowledge, in.ID)
		}
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return &apperr.VersionConflictError{Entity: entityKnowledge, ID: in.ID, Expected: expectedVersion, Actual: current.Version}
		}

		embedding, model := current.Embedding, current.EmbeddingModel
		if current.ContentHash != in.ContentHash || current.Title != in.Title {
			embedding, model = nil, ""
		}
		now := time.Now().UTC()

		res, err := tx.ExecContext(ctx, s.dialect.rebind(`
			UPDATE knowledge
			SET title = ?, content = ?, source = ?, tags = ?, metadata = ?,
			    content_hash = ?, embedding = ?, embedding_model = ?,
			    version = version + 1, updated_at = ?, search_text = ?
			WHERE id = ? AND version = ?
		`), in.Title, in.Content, in.Source, tags, meta, in.ContentHash,
			EncodeVector(embedding), model, now, searchText(in.Title, in.Content), in.ID, expectedVersion)
		if err != nil {
			if IsUniqueConstraintErr(err) {
				return &apperr.AppError{
					Code:    apperr.CodeConflict,
					Message: "another knowledge item already has this content",
					Details: map[string]string{"id": in.ID, "content_hash": in.ContentHash},
					Cause:   err,
				}
			}
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return &apperr.VersionConflictError{Entity: entityKnowledge, ID: in.ID, Expected: expectedVersion, Actual: current.Version + 1}
		}

		in.Embedding, in.EmbeddingModel = embedding, model
		in.Version = expectedVersion + 1
		in.CreatedAt = current.CreatedAt
		in.UpdatedAt = now
		updated = &in
		return nil
	})
	if err != nil {
		return nil, dbErr("update", entityKnowledge, in.ID, err)
	}
	return updated, nil
}

// DeleteItem removes an item.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperr.Validation("id", "is required")
	}
	var n int64
	err := RetryWithBackoff(ctx, func() error {
		res, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM knowledge WHERE id = ?`), id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return dbErr("delete", entityKnowledge, id, err)
	}
	if n == 0 {
		return apperr.NotFound(entityKnowledge, id)
	}
	return nil
}

// ListItems returns items newest first plus the total matching count.
func (s *Store) ListItems(ctx context.Context, opts models.ListOptions) ([]*models.KnowledgeItem, int, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if opts.Offset < 0 {
		return nil, 0, apperr.Validation("offset", "must be >= 0")
	}

	where, args := listFilter(opts)

	var total int
	if err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT COUNT(*) FROM knowledge`+where), args...).Scan(&total); err != nil {
		return nil, 0, dbErr("count", entityKnowledge, "", err)
	}

	query := `SELECT ` + knowledgeColumns + ` FROM knowledge` + where + ` ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?`
	items, err := s.queryItems(ctx, query, append(args, limit, opts.Offset)...)
	if err != nil {
		return nil, 0, dbErr("list", entityKnowledge, "", err)
	}
	return items, total, nil
}

func listFilter(opts models.ListOptions) (string, []any) {
	var clauses []string
	var args []any
	if tag := NormalizeTag(opts.Tag); tag != "" {
		clauses = append(clauses, `tags LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(`"`+tag+`"`))
	}
	if src := strings.TrimSpace(opts.Source); src != "" {
		clauses = append(clauses, `source = ?`)
		args = append(args, src)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// SetEmbedding stores the vector for an item without bumping its version.
func (s *Store) SetEmbedding(ctx context.Context, id string, vec []float32, model string) error {
	if len(vec) == 0 {
		return apperr.Validation("embedding", "is empty")
	}
	var n int64
	err := RetryWithBackoff(ctx, func() error {
		res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
			UPDATE knowledge SET embedding = ?, embedding_model = ? WHERE id = ?
		`), EncodeVector(vec), model, id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return dbErr("set_embedding", entityKnowledge, id, err)
	}
	if n == 0 {
		return apperr.NotFound(entityKnowledge, id)
	}
	return nil
}

// ItemsMissingEmbedding returns items without a vector for model (or with
// a vector from a different model), oldest first.
func (s *Store) ItemsMissingEmbedding(ctx context.Context, model string, limit int) ([]*models.KnowledgeItem, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	items, err := s.queryItems(ctx, `
		SELECT `+knowledgeColumns+` FROM knowledge
		WHERE embedding IS NULL OR embedding_model <> ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, model, limit)
	if err != nil {
		return nil, dbErr("list_missing_embeddings", entityKnowledge, "", err)
	}
	return items, nil
}

// Stats summarises the knowledge base.
func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	var st models.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN embedding IS NOT NULL THEN 1 ELSE 0 END), 0),
		       COUNT(DISTINCT NULLIF(source, ''))
		FROM knowledge
	`).Scan(&st.Items, &st.EmbeddedItems, &st.Sources)
	if err != nil {
		return models.Stats{}, dbErr("stats", entityKnowledge, "", err)
	}
	return st, nil
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]*models.KnowledgeItem, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*models.KnowledgeItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
