package gorm

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clearoid/clearoid/internal/db"
	"github.com/clearoid/clearoid/pkg/models"
)

// RunStore provides upload run persistence.
type RunStore struct {
	db *gorm.DB
}

// NewRunStore creates a new run store.
func NewRunStore(store *Store) *RunStore {
	return &RunStore{db: store.DB}
}

var _ db.RunStore = (*RunStore)(nil)

// RunByHash fetches a run by file content hash; nil when absent.
func (s *RunStore) RunByHash(ctx context.Context, hash string) (*models.UploadRun, error) {
	var row UploadRun
	if err := s.db.WithContext(ctx).First(&row, "file_hash = ?", hash).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run by hash: %w", err)
	}
	return row.toDomain(), nil
}

// RunByPublicID fetches a run by its public identifier; nil when absent.
func (s *RunStore) RunByPublicID(ctx context.Context, publicID string) (*models.UploadRun, error) {
	var row UploadRun
	if err := s.db.WithContext(ctx).First(&row, "public_id = ?", publicID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run %s: %w", publicID, err)
	}
	return row.toDomain(), nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]*models.UploadRun, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []UploadRun
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs := make([]*models.UploadRun, len(rows))
	for i := range rows {
		runs[i] = rows[i].toDomain()
	}
	return runs, nil
}

// CompleteRun persists the run record and its saved titles in one
// transaction. Either the run row reflects a completed, consistent count or
// nothing is written. Titles losing a normalized-title race inside the
// transaction are counted back into Duplicates.
func (s *RunStore) CompleteRun(ctx context.Context, run *models.UploadRun, titles []*models.Title) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		saved := 0
		for _, t := range titles {
			row := titleRow(t)
			result := tx.
				Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "normalized_title"}},
					DoNothing: true,
				}).
				Create(row)
			if result.Error != nil {
				return fmt.Errorf("insert run title: %w", result.Error)
			}
			if result.RowsAffected > 0 {
				t.ID = row.ID
				t.CreatedAt = row.CreatedAt
				saved++
			}
		}

		run.Saved = saved
		run.Duplicates = run.Processed - saved

		row := runRow(run)
		result := tx.
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "file_hash"}},
				DoNothing: true,
			}).
			Create(row)
		if result.Error != nil {
			return fmt.Errorf("insert run record: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return db.ErrRunExists
		}

		run.ID = row.ID
		run.CreatedAt = row.CreatedAt
		return nil
	})
}
