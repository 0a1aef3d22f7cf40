package gorm

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate. embeddingDims
// sizes the pgvector column and must not change for an existing database.
func runMigrations(db *gorm.DB, embeddingDims int) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: pgvector extension
		{
			ID: "001_vector_extension",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP EXTENSION IF EXISTS vector").Error
			},
		},

		// Migration 002: titles table
		{
			ID: "002_titles",
			Migrate: func(tx *gorm.DB) error {
				sqls := []string{
					fmt.Sprintf(`CREATE TABLE IF NOT EXISTS titles (
						id BIGSERIAL PRIMARY KEY,
						title TEXT NOT NULL,
						normalized_title TEXT NOT NULL,
						embedding vector(%d) NOT NULL,
						is_duplicate BOOLEAN NOT NULL DEFAULT FALSE,
						match_score REAL NOT NULL DEFAULT 0,
						matched_id BIGINT REFERENCES titles(id) ON DELETE SET NULL,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					)`, embeddingDims),
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_titles_normalized ON titles (normalized_title)`,
					`CREATE INDEX IF NOT EXISTS idx_titles_duplicate ON titles (is_duplicate)`,
					`CREATE INDEX IF NOT EXISTS idx_titles_created ON titles (created_at DESC)`,
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("titles")
			},
		},

		// Migration 003: upload_runs table
		{
			ID: "003_upload_runs",
			Migrate: func(tx *gorm.DB) error {
				sqls := []string{
					`CREATE TABLE IF NOT EXISTS upload_runs (
						id BIGSERIAL PRIMARY KEY,
						public_id TEXT NOT NULL,
						filename TEXT NOT NULL,
						file_hash TEXT NOT NULL,
						processed INTEGER NOT NULL DEFAULT 0,
						saved INTEGER NOT NULL DEFAULT 0,
						duplicates INTEGER NOT NULL DEFAULT 0,
						cluster_count INTEGER NOT NULL DEFAULT 0,
						status TEXT NOT NULL DEFAULT 'completed' CHECK (status IN ('completed', 'failed')),
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_public_id ON upload_runs (public_id)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_file_hash ON upload_runs (file_hash)`,
					`CREATE INDEX IF NOT EXISTS idx_runs_created ON upload_runs (created_at DESC)`,
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("upload_runs")
			},
		},

		// Migration 004: ANN index for the optional candidate pre-filter.
		// HNSW over cosine distance; full scans do not depend on it.
		{
			ID: "004_titles_embedding_hnsw",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(
					`CREATE INDEX IF NOT EXISTS idx_titles_embedding_hnsw
					 ON titles USING hnsw (embedding vector_cosine_ops)`,
				).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS idx_titles_embedding_hnsw").Error
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
