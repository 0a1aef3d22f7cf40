// Package similarity combines semantic and lexical signals into one hybrid score.
package similarity

import (
	"context"
	"math"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/clearoid/clearoid/internal/normalize"
)

// Hybrid score weights. Semantic similarity carries most of the signal;
// the lexical token-set ratio keeps reordered or partially overlapping
// titles from slipping past the embedding.
const (
	semanticWeight = 0.7
	lexicalWeight  = 0.3
)

// Embedder is the subset of the embedding provider the scorer needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Scorer computes hybrid similarity between titles.
type Scorer struct {
	embedder Embedder
}

// NewScorer creates a scorer over the given embedding provider.
func NewScorer(embedder Embedder) *Scorer {
	return &Scorer{embedder: embedder}
}

// Hybrid returns the combined similarity of two raw titles in [0,1], rounded
// to 4 decimal digits. It is symmetric and returns exactly 0 when either
// input normalizes to the empty string, without touching the embedder.
func (s *Scorer) Hybrid(ctx context.Context, a, b string) (float64, error) {
	na, nb := normalize.Normalize(a), normalize.Normalize(b)
	if na == "" || nb == "" {
		return 0, nil
	}
	if na == nb {
		return 1.0, nil
	}

	vecs, err := s.embedder.EmbedBatch(ctx, []string{na, nb})
	if err != nil {
		return 0, err
	}
	return combine(Cosine(vecs[0], vecs[1]), na, nb), nil
}

// HybridWithVectors scores two already-normalized texts whose embeddings are
// known, with no embedder round trip. Corpus scans use this to embed the
// candidate once instead of once per record.
func HybridWithVectors(aNorm string, aVec []float32, bNorm string, bVec []float32) float64 {
	if aNorm == "" || bNorm == "" {
		return 0
	}
	if aNorm == bNorm {
		return 1.0
	}
	return combine(Cosine(aVec, bVec), aNorm, bNorm)
}

func combine(semantic float64, aNorm, bNorm string) float64 {
	// Negative cosine carries no duplicate signal; the hybrid range is [0,1].
	if semantic < 0 {
		semantic = 0
	}
	lexical := float64(fuzzy.TokenSetRatio(aNorm, bNorm)) / 100.0
	return round4(semanticWeight*semantic + lexicalWeight*lexical)
}

// Cosine returns the cosine similarity of two vectors, defined as 0 when
// either vector has zero magnitude or lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}
