package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotcommander/lore/internal/models"
)

// maxCandidateTerms bounds the OR-chain in lexical candidate queries.
const maxCandidateTerms = 16

// fillBatch is the page size used when filling search_text for old rows.
const fillBatch = 200

// searchText is the lowercased haystack LexicalCandidates matches against.
// Folding happens in Go so non-ASCII letters compare the same on every
// driver.
func searchText(title, content string) string {
	return strings.ToLower(title + "\n" + content)
}

// LexicalCandidates returns items whose title or content contains any of
// terms (case-insensitive, Unicode-aware) and that carry every tag in tags. Ranking is left
// to the caller; rows come back most recently updated first.
func (s *Store) LexicalCandidates(ctx context.Context, terms, tags []string, limit int) ([]*models.KnowledgeItem, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if len(terms) > maxCandidateTerms {
		terms = terms[:maxCandidateTerms]
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	var (
		ors  []string
		args []any
	)
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		p := likePattern(term)
		ors = append(ors, `search_text LIKE ? ESCAPE '\'`)
		args = append(args, p)
	}
	if len(ors) == 0 {
		return nil, nil
	}

	where := " WHERE (" + strings.Join(ors, " OR ") + ")"
	tagWhere, tagArgs := tagFilter(tags)
	where += tagWhere
	args = append(args, tagArgs...)
	args = append(args, limit)

	items, err := s.queryItems(ctx, `SELECT `+knowledgeColumns+` FROM knowledge`+where+` ORDER BY updated_at DESC, id ASC LIMIT ?`, args...)
	if err != nil {
		return nil, dbErr("lexical_candidates", entityKnowledge, "", err)
	}
	return items, nil
}

// EmbeddedItems returns one page of items that carry a vector from model
// and every tag in tags, ordered by id. Pass the last id of the previous
// page as afterID to continue; "" starts from the beginning.
func (s *Store) EmbeddedItems(ctx context.Context, model string, tags []string, afterID string, limit int) ([]*models.KnowledgeItem, error) {
	if limit <= 0 {
		limit = maxListLimit
	}
	where := ` WHERE embedding IS NOT NULL AND embedding_model = ? AND id > ?`
	args := []any{model, afterID}
	tagWhere, tagArgs := tagFilter(tags)
	where += tagWhere
	args = append(args, tagArgs...)
	args = append(args, limit)

	items, err := s.queryItems(ctx, `SELECT `+knowledgeColumns+` FROM knowledge`+where+` ORDER BY id ASC LIMIT ?`, args...)
	if err != nil {
		return nil, dbErr("embedded_items", entityKnowledge, "", err)
	}
	return items, nil
}

// tagFilter renders " AND tags LIKE ..." clauses requiring every tag.
func tagFilter(tags []string) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	for _, t := range NormalizeTags(tags) {
		b.WriteString(` AND tags LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(`"`+t+`"`))
	}
	return b.String(), args
}

// fillSearchText populates search_text for rows written before the column
// existed. Content is never empty, so an empty search_text marks such a row.
func (s *Store) fillSearchText(ctx context.Context) error {
	for {
		rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
			`SELECT id, title, content FROM knowledge WHERE search_text = '' LIMIT ?`), fillBatch)
		if err != nil {
			return fmt.Errorf("select rows without search text: %w", err)
		}
		type pending struct{ id, text string }
		var batch []pending
		for rows.Next() {
			var id, title, content string
			if err := rows.Scan(&id, &title, &content); err != nil {
				_ = rows.Close()
				return err
			}
			batch = append(batch, pending{id: id, text: searchText(title, content)})
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, p := range batch {
			if _, err := s.db.ExecContext(ctx, s.dialect.rebind(
				`UPDATE knowledge SET search_text = ? WHERE id = ?`), p.text, p.id); err != nil {
				return fmt.Errorf("fill search text for %s: %w", p.id, err)
			}
		}
	}
}
