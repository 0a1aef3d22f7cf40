// Package models defines the domain records shared across clearoid stores
// and services.
package models

import "time"

// Title is a persisted title record. NormalizedTitle is a pure function of
// Title; Embedding and IsDuplicate are decided once at insertion time against
// the corpus as it existed at that moment and stay immutable afterwards.
type Title struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	NormalizedTitle string    `json:"normalized_title"`
	Embedding       []float32 `json:"-"`
	IsDuplicate     bool      `json:"is_duplicate"`
	// MatchScore is the best hybrid score observed at insertion time
	// (1.0 for the first record in an empty corpus by convention 0.0).
	MatchScore float64 `json:"match_score"`
	// MatchedID references the best-matching record when IsDuplicate is set.
	MatchedID *int64    `json:"matched_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UploadRun records one bulk submission. FileHash uniquely identifies the
// batch's byte content; a second submission with an identical hash is an
// idempotent no-op returning the stored summary.
type UploadRun struct {
	ID           int64     `json:"id"`
	PublicID     string    `json:"run_id"`
	Filename     string    `json:"filename"`
	FileHash     string    `json:"file_hash"`
	Processed    int       `json:"processed"`
	Saved        int       `json:"saved"`
	Duplicates   int       `json:"duplicates"`
	ClusterCount int       `json:"clusters"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Upload run statuses.
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Summary is the caller-facing aggregate of an upload run.
func (r *UploadRun) Summary() *RunSummary {
	return &RunSummary{
		RunID:      r.PublicID,
		Filename:   r.Filename,
		Processed:  r.Processed,
		Saved:      r.Saved,
		Duplicates: r.Duplicates,
		Clusters:   r.ClusterCount,
		Status:     r.Status,
	}
}

// RunSummary is the aggregate outcome of a bulk upload run.
type RunSummary struct {
	RunID      string `json:"run_id"`
	Filename   string `json:"filename"`
	Processed  int    `json:"processed"`
	Saved      int    `json:"saved"`
	Duplicates int    `json:"duplicates"`
	Clusters   int    `json:"clusters"`
	Status     string `json:"status"`
	// DuplicateRun marks a summary served from a previously completed run
	// with the same file hash.
	DuplicateRun bool `json:"duplicate_run,omitempty"`
}
