package gorm

import (
	"time"

	pgvec "github.com/pgvector/pgvector-go"

	"github.com/clearoid/clearoid/pkg/models"
)

// Title is the GORM row for a persisted title. The embedding column is a
// pgvector value sized by the migration, not by a struct tag, so the
// dimensionality follows the provider configuration.
type Title struct {
	ID              int64        `gorm:"primaryKey;autoIncrement"`
	Title           string       `gorm:"type:text;not null"`
	NormalizedTitle string       `gorm:"type:text;not null;uniqueIndex:idx_titles_normalized"`
	Embedding       pgvec.Vector `gorm:"type:vector"`
	IsDuplicate     bool         `gorm:"default:false;index:idx_titles_duplicate"`
	MatchScore      float64      `gorm:"type:real;default:0"`
	MatchedID       *int64
	CreatedAt       time.Time `gorm:"autoCreateTime;index:idx_titles_created,sort:desc"`
}

func (Title) TableName() string { return "titles" }

func (t *Title) toDomain() *models.Title {
	return &models.Title{
		ID:              t.ID,
		Title:           t.Title,
		NormalizedTitle: t.NormalizedTitle,
		Embedding:       t.Embedding.Slice(),
		IsDuplicate:     t.IsDuplicate,
		MatchScore:      t.MatchScore,
		MatchedID:       t.MatchedID,
		CreatedAt:       t.CreatedAt,
	}
}

func titleRow(t *models.Title) *Title {
	return &Title{
		ID:              t.ID,
		Title:           t.Title,
		NormalizedTitle: t.NormalizedTitle,
		Embedding:       pgvec.NewVector(t.Embedding),
		IsDuplicate:     t.IsDuplicate,
		MatchScore:      t.MatchScore,
		MatchedID:       t.MatchedID,
	}
}

// UploadRun is the GORM row for a bulk upload run.
type UploadRun struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	PublicID     string    `gorm:"type:text;not null;uniqueIndex:idx_runs_public_id"`
	Filename     string    `gorm:"type:text;not null"`
	FileHash     string    `gorm:"type:text;not null;uniqueIndex:idx_runs_file_hash"`
	Processed    int       `gorm:"default:0"`
	Saved        int       `gorm:"default:0"`
	Duplicates   int       `gorm:"default:0"`
	ClusterCount int       `gorm:"default:0"`
	Status       string    `gorm:"type:text;default:'completed';check:status IN ('completed', 'failed')"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index:idx_runs_created,sort:desc"`
}

func (UploadRun) TableName() string { return "upload_runs" }

func (r *UploadRun) toDomain() *models.UploadRun {
	return &models.UploadRun{
		ID:           r.ID,
		PublicID:     r.PublicID,
		Filename:     r.Filename,
		FileHash:     r.FileHash,
		Processed:    r.Processed,
		Saved:        r.Saved,
		Duplicates:   r.Duplicates,
		ClusterCount: r.ClusterCount,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
	}
}

func runRow(r *models.UploadRun) *UploadRun {
	return &UploadRun{
		ID:           r.ID,
		PublicID:     r.PublicID,
		Filename:     r.Filename,
		FileHash:     r.FileHash,
		Processed:    r.Processed,
		Saved:        r.Saved,
		Duplicates:   r.Duplicates,
		ClusterCount: r.ClusterCount,
		Status:       r.Status,
	}
}
