// Package db defines storage interfaces for the clearoid stores.
package db

import (
	"context"
	"errors"

	"github.com/clearoid/clearoid/pkg/models"
)

// ErrNormalizedExists is returned when an insert loses to an existing record
// with the same normalized title. Callers translate it into a duplicate
// classification outcome, not a failure.
var ErrNormalizedExists = errors.New("title with identical normalized form already exists")

// ErrRunExists is returned when an upload run with the same file hash is
// already recorded. Callers treat it as an idempotent no-op.
var ErrRunExists = errors.New("upload run with identical file hash already exists")

// TitleReader defines read operations for title records.
type TitleReader interface {
	// AllTitles returns the full corpus snapshot in insertion order.
	AllTitles(ctx context.Context) ([]*models.Title, error)
	TitleByID(ctx context.Context, id int64) (*models.Title, error)
	TitleByNormalized(ctx context.Context, normalized string) (*models.Title, error)
	// NearestTitles returns up to limit records ordered by embedding distance
	// to vec. Used as an optional candidate pre-filter; full-scan callers pass
	// through AllTitles instead.
	NearestTitles(ctx context.Context, vec []float32, limit int) ([]*models.Title, error)
	TitleCounts(ctx context.Context) (total, duplicates int64, err error)
}

// TitleWriter defines write operations for title records.
type TitleWriter interface {
	// InsertTitle persists t, filling in ID and CreatedAt. Returns
	// ErrNormalizedExists when a record with the same normalized title is
	// already present.
	InsertTitle(ctx context.Context, t *models.Title) error
	DeleteTitle(ctx context.Context, id int64) (bool, error)
	DeleteTitles(ctx context.Context, ids []int64) (int64, error)
}

// TitleStore combines read and write operations for titles.
type TitleStore interface {
	TitleReader
	TitleWriter
}

// RunStore persists upload run records.
type RunStore interface {
	RunByHash(ctx context.Context, hash string) (*models.UploadRun, error)
	RunByPublicID(ctx context.Context, publicID string) (*models.UploadRun, error)
	ListRuns(ctx context.Context, limit int) ([]*models.UploadRun, error)
	// CompleteRun atomically persists the run record and the titles saved by
	// that run. Titles losing a normalized-title conflict are silently
	// skipped and the run's Saved/Duplicates counts are adjusted to what was
	// actually written. Returns ErrRunExists when the hash is taken.
	CompleteRun(ctx context.Context, run *models.UploadRun, titles []*models.Title) error
}
