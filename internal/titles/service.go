// Package titles implements the single-title operations: submit, check,
// similar-title discovery, history, export and deletion.
package titles

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/clearoid/clearoid/internal/db"
	"github.com/clearoid/clearoid/internal/dedup"
	"github.com/clearoid/clearoid/internal/normalize"
	"github.com/clearoid/clearoid/internal/similarity"
	"github.com/clearoid/clearoid/pkg/models"
)

// Thresholds holds the default score gates, each overridable per call.
type Thresholds struct {
	Insert  float64
	Similar float64
	Search  float64
}

// SubmitOutcome is the result of one submit: the stored or matched record
// plus its classification.
type SubmitOutcome struct {
	Record    *models.Title `json:"record"`
	Duplicate bool          `json:"duplicate"`
	Match     *dedup.Match  `json:"match,omitempty"`
	Score     float64       `json:"score"`
}

// Aggregates summarizes the stored corpus for history views.
type Aggregates struct {
	Total      int64 `json:"total"`
	Unique     int64 `json:"unique"`
	Duplicates int64 `json:"duplicates"`
	// Clusters counts groups containing at least one flagged duplicate.
	Clusters int64 `json:"clusters"`
}

// Service coordinates classification and persistence for single titles.
type Service struct {
	store      db.TitleStore
	embedder   similarity.Embedder
	classifier *dedup.Classifier
	thresholds Thresholds
	// candidateLimit > 0 narrows corpus scans to the nearest stored vectors;
	// 0 keeps the exact full scan.
	candidateLimit int

	// submits serializes classify-then-insert per normalized key so two
	// concurrent submits of the same title cannot both pass the gate.
	submits singleflight.Group
}

// NewService creates the title service.
func NewService(store db.TitleStore, embedder similarity.Embedder, thresholds Thresholds, candidateLimit int) *Service {
	return &Service{
		store:          store,
		embedder:       embedder,
		classifier:     dedup.NewClassifier(embedder),
		thresholds:     thresholds,
		candidateLimit: candidateLimit,
	}
}

// Thresholds returns the configured default gates.
func (s *Service) Thresholds() Thresholds {
	return s.thresholds
}

// prepare normalizes raw, embeds it once, and fetches the corpus to scan.
func (s *Service) prepare(ctx context.Context, raw string) (norm string, vec []float32, corpus []*models.Title, err error) {
	norm = normalize.Normalize(raw)
	if norm == "" {
		return "", nil, nil, dedup.ErrEmptyTitle
	}

	vec, err = s.embedder.Embed(ctx, norm)
	if err != nil {
		return "", nil, nil, err
	}

	if s.candidateLimit > 0 {
		corpus, err = s.store.NearestTitles(ctx, vec, s.candidateLimit)
	} else {
		corpus, err = s.store.AllTitles(ctx)
	}
	if err != nil {
		return "", nil, nil, fmt.Errorf("load corpus: %w", err)
	}
	return norm, vec, corpus, nil
}

// Submit classifies raw against the stored corpus at threshold and persists
// it with its flag. A normalized-title conflict at the storage layer is
// translated into a duplicate outcome against the existing record.
func (s *Service) Submit(ctx context.Context, raw string, threshold float64) (*SubmitOutcome, error) {
	if threshold <= 0 {
		threshold = s.thresholds.Insert
	}

	norm := normalize.Normalize(raw)
	if norm == "" {
		return nil, dedup.ErrEmptyTitle
	}

	v, err, _ := s.submits.Do(norm, func() (interface{}, error) {
		return s.submit(ctx, raw, threshold)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SubmitOutcome), nil
}

func (s *Service) submit(ctx context.Context, raw string, threshold float64) (*SubmitOutcome, error) {
	norm, vec, corpus, err := s.prepare(ctx, raw)
	if err != nil {
		return nil, err
	}

	res := s.classifier.ClassifyVector(norm, vec, corpus, threshold)

	rec := &models.Title{
		Title:           raw,
		NormalizedTitle: norm,
		Embedding:       vec,
		IsDuplicate:     res.Duplicate,
		MatchScore:      res.Score,
	}
	if res.Match != nil {
		rec.MatchedID = &res.Match.ID
	}

	if err := s.store.InsertTitle(ctx, rec); err != nil {
		if errors.Is(err, db.ErrNormalizedExists) {
			return s.conflictOutcome(ctx, norm)
		}
		return nil, fmt.Errorf("insert title: %w", err)
	}

	return &SubmitOutcome{
		Record:    rec,
		Duplicate: res.Duplicate,
		Match:     res.Match,
		Score:     res.Score,
	}, nil
}

// conflictOutcome reports a storage-layer unique conflict as an exact
// duplicate of the record that won the race.
func (s *Service) conflictOutcome(ctx context.Context, norm string) (*SubmitOutcome, error) {
	existing, err := s.store.TitleByNormalized(ctx, norm)
	if err != nil {
		return nil, fmt.Errorf("load conflicting title: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("conflicting title vanished for %q", norm)
	}
	return &SubmitOutcome{
		Record:    existing,
		Duplicate: true,
		Match:     &dedup.Match{ID: existing.ID, Title: existing.Title, Score: 1.0},
		Score:     1.0,
	}, nil
}

// Check classifies raw without writing anything.
func (s *Service) Check(ctx context.Context, raw string, threshold float64) (*dedup.Result, error) {
	if threshold <= 0 {
		threshold = s.thresholds.Insert
	}
	norm, vec, corpus, err := s.prepare(ctx, raw)
	if err != nil {
		return nil, err
	}
	return s.classifier.ClassifyVector(norm, vec, corpus, threshold), nil
}

// Similar returns stored records scoring >= threshold, best first, at most
// limit entries (0 = unlimited).
func (s *Service) Similar(ctx context.Context, raw string, threshold float64, limit int) ([]dedup.Match, error) {
	if threshold <= 0 {
		threshold = s.thresholds.Similar
	}
	norm, vec, corpus, err := s.prepare(ctx, raw)
	if err != nil {
		return nil, err
	}
	matches := s.classifier.SimilarVector(norm, vec, corpus, threshold)
	if limit > 0 && limit < len(matches) {
		matches = matches[:limit]
	}
	return matches, nil
}

// Search is Similar with the looser search gate as its default, for free-text
// lookup rather than duplicate vetting.
func (s *Service) Search(ctx context.Context, raw string, threshold float64, limit int) ([]dedup.Match, error) {
	if threshold <= 0 {
		threshold = s.thresholds.Search
	}
	return s.Similar(ctx, raw, threshold, limit)
}

// History returns the full corpus in insertion order with its aggregates.
func (s *Service) History(ctx context.Context) ([]*models.Title, *Aggregates, error) {
	all, err := s.store.AllTitles(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load titles: %w", err)
	}

	agg := &Aggregates{Total: int64(len(all))}
	groups := make(map[int64]bool)
	for _, t := range all {
		if t.IsDuplicate {
			agg.Duplicates++
			if t.MatchedID != nil {
				groups[*t.MatchedID] = true
			}
		}
	}
	agg.Unique = agg.Total - agg.Duplicates
	agg.Clusters = int64(len(groups))
	return all, agg, nil
}

// Export selects records for CSV download. kind is "all", "unique" or
// "selected"; ids applies only to "selected".
func (s *Service) Export(ctx context.Context, kind string, ids []int64) ([]*models.Title, error) {
	all, err := s.store.AllTitles(ctx)
	if err != nil {
		return nil, fmt.Errorf("load titles: %w", err)
	}

	switch kind {
	case "", "all":
		return all, nil
	case "unique":
		out := make([]*models.Title, 0, len(all))
		for _, t := range all {
			if !t.IsDuplicate {
				out = append(out, t)
			}
		}
		return out, nil
	case "selected":
		want := make(map[int64]bool, len(ids))
		for _, id := range ids {
			want[id] = true
		}
		out := make([]*models.Title, 0, len(ids))
		for _, t := range all {
			if want[t.ID] {
				out = append(out, t)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown export type %q", kind)
	}
}

// ExportRows renders records as CSV rows with a header.
func ExportRows(records []*models.Title) [][]string {
	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, []string{"id", "title", "normalized_title", "is_duplicate", "match_score", "created_at"})
	for _, t := range records {
		rows = append(rows, []string{
			strconv.FormatInt(t.ID, 10),
			t.Title,
			t.NormalizedTitle,
			strconv.FormatBool(t.IsDuplicate),
			strconv.FormatFloat(t.MatchScore, 'f', 4, 64),
			t.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		})
	}
	return rows
}

// Delete removes one record. Returns false when id does not exist.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	return s.store.DeleteTitle(ctx, id)
}

// DeleteBulk removes the given records and returns how many existed.
func (s *Service) DeleteBulk(ctx context.Context, ids []int64) (int64, error) {
	return s.store.DeleteTitles(ctx, ids)
}
