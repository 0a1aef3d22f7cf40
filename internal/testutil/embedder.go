// Package testutil provides deterministic test doubles for the embedding
// provider and stores, so similarity and dedup behavior can be tested without
// a live model or database.
package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// FakeEmbedder maps text to a bag-of-words vector: every whitespace token is
// hashed into one of Dims buckets. Identical texts get identical vectors and
// token overlap translates directly into cosine similarity, which makes
// threshold behavior predictable in tests.
type FakeEmbedder struct {
	Dims int
	// Err, when set, is returned from every call.
	Err error
	// Calls counts provider invocations (Embed and EmbedBatch each count once).
	Calls int
}

// NewFakeEmbedder returns a fake with a small default dimensionality.
func NewFakeEmbedder() *FakeEmbedder {
	return &FakeEmbedder{Dims: 64}
}

// Vector computes the deterministic embedding for text.
func (f *FakeEmbedder) Vector(text string) []float32 {
	vec := make([]float32, f.Dims)
	for _, tok := range strings.Fields(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(f.Dims)]++
	}
	// Unit-normalize so cosine reflects overlap, not length.
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func (f *FakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Vector(text), nil
}

func (f *FakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.Vector(t)
	}
	return out, nil
}
