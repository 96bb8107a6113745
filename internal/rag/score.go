package rag

import (
	"math"
	"sort"

	"github.com/dotcommander/lore/internal/models"
)

// Hybrid blend weights.
const (
	lexicalWeight = 0.35
	vectorWeight  = 0.65

	// bm25K1 controls term-frequency saturation in content.
	bm25K1 = 1.2
)

// lexicalScore is BM25-style term coverage in [0,1). Each query term
// earns up to 2/3 for appearing in the title and up to 1/3 for
// (saturating) frequency in the content; the item score is the mean.
func lexicalScore(terms []string, title, content map[string]int) float64 {
	if len(terms) == 0 {
		return 0
	}
	var total float64
	for _, t := range terms {
		var s float64
		if title[t] > 0 {
			s += 2
		}
		if tf := float64(content[t]); tf > 0 {
			s += tf / (tf + bm25K1)
		}
		total += s / 3
	}
	return total / float64(len(terms))
}

// cosine returns the cosine similarity of a and b clamped to [0,1].
// Mismatched or empty vectors score 0.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, c))
}

// hybridScore blends the two signals. Without a query vector the lexical
// score stands alone.
func hybridScore(lexical, vector float64, haveVector bool) float64 {
	if !haveVector {
		return lexical
	}
	return lexicalWeight*lexical + vectorWeight*vector
}

// rankItems orders by score desc, then most recently updated, then ID.
func rankItems(items []models.ScoredItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Item.UpdatedAt.Equal(b.Item.UpdatedAt) {
			return a.Item.UpdatedAt.After(b.Item.UpdatedAt)
		}
		return a.Item.ID < b.Item.ID
	})
}
