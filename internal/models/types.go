package models

import (
	"time"
)

// ID Strategy:
// - Knowledge items use string IDs ("kn_1234567890_a3f9...") so they can be
//   generated client-side and survive a move between SQLite and Postgres.
// - Nothing in the schema depends on auto-increment ordering.

// KnowledgeItem is a single unit of retrievable knowledge.
type KnowledgeItem struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	Content        string            `json:"content"`
	Source         string            `json:"source,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ContentHash    string            `json:"content_hash"`
	Embedding      []float32         `json:"-"`
	EmbeddingModel string            `json:"embedding_model,omitempty"`
	Version        int               `json:"version"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// HasEmbedding returns true if the item carries a vector.
func (k *KnowledgeItem) HasEmbedding() bool {
	return len(k.Embedding) > 0
}

// HasTag returns true if the item carries tag (already normalized).
func (k *KnowledgeItem) HasTag(tag string) bool {
	for _, t := range k.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ScoredItem is a knowledge item ranked against a query.
type ScoredItem struct {
	Item         KnowledgeItem `json:"item"`
	Score        float64       `json:"score"`
	LexicalScore float64       `json:"lexical_score"`
	VectorScore  float64       `json:"vector_score"`
}

// Retrieval strategies recorded on a RAGContext.
const (
	StrategyHybrid  = "hybrid"
	StrategyLexical = "lexical"
)

// RAGContext is the retrieved evidence for one query, ready to hand to a model.
type RAGContext struct {
	Query     string       `json:"query"`
	Items     []ScoredItem `json:"items"`
	Prompt    string       `json:"prompt,omitempty"`
	Chars     int          `json:"chars"`
	Truncated bool         `json:"truncated"`
	Strategy  string       `json:"strategy"`
}

// Sources returns the citation list in ranking order.
func (c *RAGContext) Sources() []Source {
	if c == nil {
		return nil
	}
	out := make([]Source, 0, len(c.Items))
	for _, si := range c.Items {
		out = append(out, Source{
			ID:     si.Item.ID,
			Title:  si.Item.Title,
			Source: si.Item.Source,
			Score:  si.Score,
		})
	}
	return out
}

// IsEmpty returns true when nothing relevant was retrieved.
func (c *RAGContext) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// Source is a citation attached to an answer.
type Source struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Source string  `json:"source,omitempty"`
	Score  float64 `json:"score"`
}

// ChatRole identifies the author of a chat message.
type ChatRole string

// Chat role constants.
const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
	RoleSystem    ChatRole = "system"
)

// Valid returns true for the known roles.
func (r ChatRole) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// Answer is the result of a RAG question.
type Answer struct {
	Question string      `json:"question"`
	Text     string      `json:"text"`
	Sources  []Source    `json:"sources"`
	Model    string      `json:"model,omitempty"`
	Cached   bool        `json:"cached"`
	// Degraded is set when no generator was available and Text only
	// points at the sources.
	Degraded bool        `json:"degraded,omitempty"`
	Context  *RAGContext `json:"context,omitempty"`
}

// ListOptions filters ListItems.
type ListOptions struct {
	Tag    string
	Source string
	Limit  int
	Offset int
}

// SearchOptions tunes retrieval.
type SearchOptions struct {
	TopK     int
	MinScore float64
	Tags     []string
}

// Stats summarises the knowledge base.
type Stats struct {
	Items         int `json:"items"`
	EmbeddedItems int `json:"embedded_items"`
	Sources       int `json:"sources"`
}
