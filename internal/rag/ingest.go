package rag

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dotcommander/lore/internal/apperr"
	"github.com/dotcommander/lore/internal/models"
	"github.com/dotcommander/lore/internal/store"
)

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

// Chunk metadata keys.
const (
	MetaChunkIndex = "chunk_index"
	MetaChunkCount = "chunk_count"
	MetaDocument   = "document"
	MetaArchiveKey = "archive_key"
)

// IngestOptions tunes Ingest. Zero sizes use the configured defaults.
type IngestOptions struct {
	Tags         []string
	Metadata     map[string]string
	ChunkSize    int
	ChunkOverlap int
	Archive      bool
}

// IngestResult reports one ingested document.
type IngestResult struct {
	Document   string                  `json:"document"`
	Chunks     int                     `json:"chunks"`
	Created    int                     `json:"created"`
	Duplicates int                     `json:"duplicates"`
	ArchiveKey string                  `json:"archive_key,omitempty"`
	Items      []*models.KnowledgeItem `json:"items"`
}

// Ingest splits a document into chunks and stores one item per chunk.
// Chunks are sourced "name#chunk-N" (1-based) and carry chunk_index,
// chunk_count and document metadata. With opts.Archive the raw document
// is first written to the blob archive and its key recorded on every chunk.
func (s *Service) Ingest(ctx context.Context, name string, content []byte, opts IngestOptions) (*IngestResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("name", "is required")
	}
	if !utf8.Valid(content) {
		return nil, apperr.Validation("content", "is not valid UTF-8 text")
	}
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validation("content", "is empty")
	}

	size, overlap := s.chunkParams(opts)
	chunks := Chunk(text, size, overlap)
	res := &IngestResult{Document: name, Chunks: len(chunks)}

	if opts.Archive {
		if s.archive == nil {
			return nil, &apperr.AppError{
				Code:    apperr.CodeUnavailable,
				Message: "document archive is not configured",
				Hint:    "set blob.endpoint (or LORE_BLOB_ENDPOINT) or drop --archive",
			}
		}
		key, err := s.archive.Put(ctx, name, content, contentTypeFor(name))
		if err != nil {
			return nil, err
		}
		res.ArchiveKey = key
	}

	base := filepath.Base(name)
	var fresh []*models.KnowledgeItem
	for i, c := range chunks {
		meta := make(map[string]string, len(opts.Metadata)+4)
		for k, v := range opts.Metadata {
			meta[k] = v
		}
		meta[MetaChunkIndex] = strconv.Itoa(i + 1)
		meta[MetaChunkCount] = strconv.Itoa(len(chunks))
		meta[MetaDocument] = name
		if res.ArchiveKey != "" {
			meta[MetaArchiveKey] = res.ArchiveKey
		}

		title := base
		if len(chunks) > 1 {
			title = fmt.Sprintf("%s (%d/%d)", base, i+1, len(chunks))
		}
		item, created, err := s.store.CreateItem(ctx, &models.KnowledgeItem{
			Title:    truncateRunes(title, store.MaxTitleBytes/4),
			Content:  c,
			Source:   fmt.Sprintf("%s#chunk-%d", name, i+1),
			Tags:     opts.Tags,
			Metadata: meta,
		})
		if err != nil {
			return nil, fmt.Errorf("chunk %d of %s: %w", i+1, name, err)
		}
		if created {
			res.Created++
		} else {
			res.Duplicates++
		}
		if !item.HasEmbedding() || item.EmbeddingModel != s.EmbeddingModel() {
			fresh = append(fresh, item)
		}
		res.Items = append(res.Items, item)
	}

	for start := 0; start < len(fresh); start += embedBatchSize {
		s.embedOrSchedule(ctx, fresh[start:min(start+embedBatchSize, len(fresh))])
	}
	return res, nil
}

func (s *Service) chunkParams(opts IngestOptions) (size, overlap int) {
	size, overlap = opts.ChunkSize, opts.ChunkOverlap
	if size <= 0 {
		size = s.cfg.ChunkSize
	}
	if overlap <= 0 {
		overlap = s.cfg.ChunkOverlap
	}
	// Chunks are counted in runes; keep the worst case under the item limit.
	if size > store.MaxContentBytes/4 {
		size = store.MaxContentBytes / 4
	}
	return size, overlap
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "text/plain; charset=utf-8"
}

// Chunk splits text into pieces of at most size runes. Paragraphs are kept
// whole where possible; a paragraph longer than size is split on word
// boundaries. Each chunk after the first starts with up to overlap runes
// of the previous chunk's tail when that still fits.
func Chunk(text string, size, overlap int) []string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = 1500
	}
	if overlap < 0 || overlap >= size/2 {
		overlap = size / 4
	}

	var pieces []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			pieces = append(pieces, splitLong(p, size)...)
		}
	}

	const sep = "\n\n"
	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	for _, p := range pieces {
		pl := utf8.RuneCountInString(p)
		if curLen > 0 && curLen+len(sep)+pl > size {
			prev := cur.String()
			chunks = append(chunks, prev)
			cur.Reset()
			curLen = 0
			if tail := tailWords(prev, overlap); tail != "" {
				if tl := utf8.RuneCountInString(tail); tl+len(sep)+pl <= size {
					cur.WriteString(tail)
					curLen = tl
				}
			}
		}
		if curLen > 0 {
			cur.WriteString(sep)
			curLen += len(sep)
		}
		cur.WriteString(p)
		curLen += pl
	}
	if curLen > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// splitLong breaks p into word-bounded pieces of at most size runes. Words
// longer than size are cut.
func splitLong(p string, size int) []string {
	if utf8.RuneCountInString(p) <= size {
		return []string{p}
	}
	var (
		out    []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, w := range strings.Fields(p) {
		for utf8.RuneCountInString(w) > size {
			flush()
			head := truncateRunes(w, size)
			out = append(out, head)
			w = w[len(head):]
		}
		if w == "" {
			continue
		}
		wl := utf8.RuneCountInString(w)
		if curLen > 0 && curLen+1+wl > size {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(w)
		curLen += wl
	}
	flush()
	return out
}

// tailWords returns at most n trailing runes of s, starting at a word
// boundary.
func tailWords(s string, n int) string {
	if n <= 0 {
		return ""
	}
	total := utf8.RuneCountInString(s)
	if total <= n {
		return s
	}
	skip := total - n
	i := 0
	for pos := range s {
		if i == skip {
			tail := s[pos:]
			if idx := strings.IndexAny(tail, " \n\t"); idx >= 0 && pos > 0 && !isSpaceByte(s[pos-1]) {
				tail = tail[idx:]
			}
			return strings.TrimSpace(tail)
		}
		i++
	}
	return ""
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t'
}
