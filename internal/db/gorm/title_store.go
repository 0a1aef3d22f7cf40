package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clearoid/clearoid/internal/db"
	"github.com/clearoid/clearoid/pkg/models"
)

// TitleStore provides title record persistence.
type TitleStore struct {
	db    *gorm.DB
	rawDB *sql.DB
}

// NewTitleStore creates a new title store.
func NewTitleStore(store *Store) *TitleStore {
	return &TitleStore{db: store.DB, rawDB: store.GetRawDB()}
}

var _ db.TitleStore = (*TitleStore)(nil)

// AllTitles returns the full corpus snapshot in insertion order.
func (s *TitleStore) AllTitles(ctx context.Context) ([]*models.Title, error) {
	var rows []Title
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query all titles: %w", err)
	}

	titles := make([]*models.Title, len(rows))
	for i := range rows {
		titles[i] = rows[i].toDomain()
	}
	return titles, nil
}

// TitleByID fetches a title by primary key; nil when absent.
func (s *TitleStore) TitleByID(ctx context.Context, id int64) (*models.Title, error) {
	var row Title
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get title %d: %w", id, err)
	}
	return row.toDomain(), nil
}

// TitleByNormalized fetches a title by its normalized form; nil when absent.
func (s *TitleStore) TitleByNormalized(ctx context.Context, normalized string) (*models.Title, error) {
	var row Title
	if err := s.db.WithContext(ctx).First(&row, "normalized_title = ?", normalized).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get title by normalized form: %w", err)
	}
	return row.toDomain(), nil
}

// NearestTitles returns up to limit records closest to vec by cosine
// distance, re-ordered by id so downstream scans keep insertion-order
// tie-breaking.
func (s *TitleStore) NearestTitles(ctx context.Context, vec []float32, limit int) ([]*models.Title, error) {
	query := `
		SELECT c.id, c.title, c.normalized_title, c.embedding,
		       c.is_duplicate, c.match_score, c.matched_id, c.created_at
		FROM (
			SELECT * FROM titles ORDER BY embedding <=> $1 LIMIT $2
		) c
		ORDER BY c.id ASC
	`

	rows, err := s.rawDB.QueryContext(ctx, query, pgvec.NewVector(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest titles: %w", err)
	}
	defer rows.Close()

	titles := make([]*models.Title, 0, limit)
	for rows.Next() {
		var row Title
		if err := rows.Scan(&row.ID, &row.Title, &row.NormalizedTitle, &row.Embedding,
			&row.IsDuplicate, &row.MatchScore, &row.MatchedID, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan title row: %w", err)
		}
		titles = append(titles, row.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate title rows: %w", err)
	}
	return titles, nil
}

// TitleCounts returns the total and flagged-duplicate record counts.
func (s *TitleStore) TitleCounts(ctx context.Context) (int64, int64, error) {
	var total, duplicates int64
	if err := s.db.WithContext(ctx).Model(&Title{}).Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("count titles: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&Title{}).Where("is_duplicate = true").Count(&duplicates).Error; err != nil {
		return 0, 0, fmt.Errorf("count duplicate titles: %w", err)
	}
	return total, duplicates, nil
}

// InsertTitle persists t. The unique index on normalized_title is the second
// line of defense against concurrent near-identical submissions; a lost race
// surfaces as db.ErrNormalizedExists, never as a second row.
func (s *TitleStore) InsertTitle(ctx context.Context, t *models.Title) error {
	row := titleRow(t)
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "normalized_title"}},
			DoNothing: true,
		}).
		Create(row)
	if result.Error != nil {
		return fmt.Errorf("insert title: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return db.ErrNormalizedExists
	}

	t.ID = row.ID
	t.CreatedAt = row.CreatedAt
	return nil
}

// DeleteTitle removes a title by id, reporting whether a row existed.
func (s *TitleStore) DeleteTitle(ctx context.Context, id int64) (bool, error) {
	result := s.db.WithContext(ctx).Delete(&Title{}, "id = ?", id)
	if result.Error != nil {
		return false, fmt.Errorf("delete title %d: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// DeleteTitles removes a batch of titles, returning the deleted count.
func (s *TitleStore) DeleteTitles(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).Delete(&Title{}, "id IN ?", ids)
	if result.Error != nil {
		return 0, fmt.Errorf("delete titles: %w", result.Error)
	}
	return result.RowsAffected, nil
}
