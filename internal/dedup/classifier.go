// Package dedup implements duplicate classification and bulk clustering of
// titles over a hybrid semantic/lexical similarity score.
package dedup

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/clearoid/clearoid/internal/normalize"
	"github.com/clearoid/clearoid/internal/similarity"
	"github.com/clearoid/clearoid/pkg/models"
)

// ErrEmptyTitle is returned when a candidate normalizes to the empty string.
// It is rejected before any embedding call.
var ErrEmptyTitle = errors.New("title normalizes to empty string")

// Match identifies the best-scoring existing record for a candidate.
type Match struct {
	ID    int64   `json:"id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// Result is a duplicate classification outcome.
type Result struct {
	// Duplicate holds iff Score >= the threshold the classification ran with.
	Duplicate bool `json:"duplicate"`
	// Match is the best-scoring record, nil for an empty (or fully skipped)
	// corpus.
	Match *Match `json:"match,omitempty"`
	// Score is the best hybrid score observed, 0 for an empty corpus.
	Score float64 `json:"score"`
}

// Classifier scans a corpus snapshot for the best match of a candidate title.
type Classifier struct {
	embedder similarity.Embedder
}

// NewClassifier creates a classifier over the given embedding provider.
func NewClassifier(embedder similarity.Embedder) *Classifier {
	return &Classifier{embedder: embedder}
}

// Classify finds the best-matching record for candidate in corpus and applies
// the threshold policy: duplicate iff bestScore >= threshold. The scan is
// linear in corpus order; the first record reaching the maximum wins.
// Records whose stored vector has the wrong length are skipped with a
// warning, degrading the scan instead of failing it.
func (c *Classifier) Classify(ctx context.Context, candidate string, corpus []*models.Title, threshold float64) (*Result, error) {
	norm := normalize.Normalize(candidate)
	if norm == "" {
		return nil, ErrEmptyTitle
	}
	if len(corpus) == 0 {
		return &Result{Score: 0}, nil
	}

	vec, err := c.embedder.Embed(ctx, norm)
	if err != nil {
		return nil, err
	}
	return c.ClassifyVector(norm, vec, corpus, threshold), nil
}

// ClassifyVector is Classify for a candidate whose normalized form and
// embedding are already known. Callers that pre-filter the corpus by vector
// distance use it to embed the candidate exactly once.
func (c *Classifier) ClassifyVector(norm string, vec []float32, corpus []*models.Title, threshold float64) *Result {
	if len(corpus) == 0 {
		return &Result{Score: 0}
	}

	var best *models.Title
	bestScore := 0.0
	for _, rec := range corpus {
		if len(rec.Embedding) != len(vec) {
			log.Warn().Int64("title_id", rec.ID).
				Int("got", len(rec.Embedding)).Int("want", len(vec)).
				Msg("Skipping title with corrupt embedding")
			continue
		}
		score := similarity.HybridWithVectors(norm, vec, rec.NormalizedTitle, rec.Embedding)
		if best == nil || score > bestScore {
			best = rec
			bestScore = score
		}
	}
	if best == nil {
		// Every record was skipped; behave like an empty corpus.
		return &Result{Score: 0}
	}

	return &Result{
		Duplicate: bestScore >= threshold,
		Match:     &Match{ID: best.ID, Title: best.Title, Score: bestScore},
		Score:     bestScore,
	}
}

// FindSimilar returns every record scoring >= threshold against candidate,
// sorted descending by score. Equal scores keep corpus order.
func (c *Classifier) FindSimilar(ctx context.Context, candidate string, corpus []*models.Title, threshold float64) ([]Match, error) {
	norm := normalize.Normalize(candidate)
	if norm == "" {
		return nil, ErrEmptyTitle
	}
	if len(corpus) == 0 {
		return []Match{}, nil
	}

	vec, err := c.embedder.Embed(ctx, norm)
	if err != nil {
		return nil, err
	}
	return c.SimilarVector(norm, vec, corpus, threshold), nil
}

// SimilarVector is FindSimilar for a candidate with a precomputed embedding.
func (c *Classifier) SimilarVector(norm string, vec []float32, corpus []*models.Title, threshold float64) []Match {
	matches := make([]Match, 0)
	for _, rec := range corpus {
		if len(rec.Embedding) != len(vec) {
			log.Warn().Int64("title_id", rec.ID).
				Int("got", len(rec.Embedding)).Int("want", len(vec)).
				Msg("Skipping title with corrupt embedding")
			continue
		}
		score := similarity.HybridWithVectors(norm, vec, rec.NormalizedTitle, rec.Embedding)
		if score >= threshold {
			matches = append(matches, Match{ID: rec.ID, Title: rec.Title, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}
