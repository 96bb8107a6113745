package ai

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashDims is the width of HashEmbedder vectors.
const HashDims = 256

// HashEmbedder is a deterministic local embedder: word unigrams and bigrams
// are feature-hashed into a fixed-width signed vector and L2-normalized.
// It needs no network and gives stable vectors for tests and offline use.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a HashEmbedder with HashDims dimensions.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{dims: HashDims}
}

// Model names the vector space; vectors from different models never mix.
func (h *HashEmbedder) Model() string {
	return fmt.Sprintf("hash-%d", h.dims)
}

// Embed never fails except on a cancelled context.
func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, h.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		h.add(v, w, 1)
		if i > 0 {
			h.add(v, words[i-1]+" "+w, 0.5)
		}
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}

func (h *HashEmbedder) add(v []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}
