// Package upload implements bulk title uploads as idempotent runs: a file is
// parsed, clustered, classified against the stored corpus and persisted in
// one transaction keyed by its content hash.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/clearoid/clearoid/internal/db"
	"github.com/clearoid/clearoid/internal/dedup"
	"github.com/clearoid/clearoid/internal/ingest"
	"github.com/clearoid/clearoid/internal/normalize"
	"github.com/clearoid/clearoid/internal/similarity"
	"github.com/clearoid/clearoid/pkg/models"
)

// ErrRunNotFound is returned when a run id matches neither a pending nor a
// persisted run.
var ErrRunNotFound = errors.New("upload run not found")

// RunTimeout bounds a background run detached from its originating request.
const RunTimeout = 10 * time.Minute

// Failed runs write no run row, so their in-memory entries are the only
// record pollers can see. They are kept for FailedRunTTL and capped at
// MaxFailedRuns so repeated bad uploads cannot grow the registry without
// bound.
const (
	FailedRunTTL  = time.Hour
	MaxFailedRuns = 64
)

// pendingRun is an in-flight or failed run visible only through Status.
type pendingRun struct {
	summary  models.RunSummary
	failedAt time.Time
}

// Controller executes upload runs.
type Controller struct {
	titles    db.TitleStore
	runs      db.RunStore
	embedder  similarity.Embedder
	engine    *dedup.Engine
	classify  *dedup.Classifier
	threshold float64
	// candidateLimit mirrors the title service's corpus pre-filter setting.
	candidateLimit int

	failedTTL time.Duration
	maxFailed int

	mu      sync.Mutex
	pending map[string]*pendingRun // public id -> in-flight status
}

// NewController creates an upload controller classifying representatives at
// threshold.
func NewController(titles db.TitleStore, runs db.RunStore, embedder similarity.Embedder, threshold float64, candidateLimit int) *Controller {
	return &Controller{
		titles:         titles,
		runs:           runs,
		embedder:       embedder,
		engine:         dedup.NewEngine(embedder),
		classify:       dedup.NewClassifier(embedder),
		threshold:      threshold,
		candidateLimit: candidateLimit,
		failedTTL:      FailedRunTTL,
		maxFailed:      MaxFailedRuns,
		pending:        make(map[string]*pendingRun),
	}
}

// HashContent returns the hex SHA-256 of content, the run idempotency key.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Run executes an upload synchronously and returns its summary. A file whose
// hash matches a completed run returns that run's summary without
// reprocessing; the summary is marked as a duplicate run.
func (c *Controller) Run(ctx context.Context, content []byte, filename string) (*models.RunSummary, error) {
	hash := HashContent(content)

	if prior, err := c.runs.RunByHash(ctx, hash); err != nil {
		return nil, fmt.Errorf("look up run: %w", err)
	} else if prior != nil {
		summary := prior.Summary()
		summary.DuplicateRun = true
		return summary, nil
	}

	run := &models.UploadRun{
		PublicID: uuid.NewString(),
		Filename: filename,
		FileHash: hash,
	}
	return c.execute(ctx, run, content)
}

// Enqueue starts a background run and returns its public id immediately.
// Progress is visible through Status until the run row is persisted.
func (c *Controller) Enqueue(content []byte, filename string) (string, error) {
	hash := HashContent(content)

	bg, cancel := context.WithTimeout(context.Background(), RunTimeout)
	if prior, err := c.runs.RunByHash(bg, hash); err != nil {
		cancel()
		return "", fmt.Errorf("look up run: %w", err)
	} else if prior != nil {
		cancel()
		return prior.PublicID, nil
	}

	run := &models.UploadRun{
		PublicID: uuid.NewString(),
		Filename: filename,
		FileHash: hash,
	}

	c.mu.Lock()
	c.pruneLocked(time.Now())
	c.pending[run.PublicID] = &pendingRun{summary: models.RunSummary{
		RunID:    run.PublicID,
		Filename: filename,
		Status:   "running",
	}}
	c.mu.Unlock()

	go func() {
		defer cancel()

		_, err := c.execute(bg, run, content)

		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			log.Error().Err(err).
				Str("run_id", run.PublicID).
				Str("filename", filename).
				Msg("Upload run failed")
			// No run row is written for a failed run; keep the in-memory
			// entry so pollers see the failure instead of a 404.
			if p, ok := c.pending[run.PublicID]; ok {
				p.summary.Status = models.RunStatusFailed
				p.failedAt = time.Now()
			}
			return
		}
		delete(c.pending, run.PublicID)
	}()

	return run.PublicID, nil
}

// pruneLocked evicts failed-run entries past the TTL, then the oldest over
// the cap. Running entries are never evicted. Callers hold c.mu.
func (c *Controller) pruneLocked(now time.Time) {
	type aged struct {
		id       string
		failedAt time.Time
	}
	var failed []aged
	for id, p := range c.pending {
		if p.summary.Status != models.RunStatusFailed {
			continue
		}
		if now.Sub(p.failedAt) >= c.failedTTL {
			delete(c.pending, id)
			continue
		}
		failed = append(failed, aged{id, p.failedAt})
	}
	if len(failed) <= c.maxFailed {
		return
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].failedAt.Before(failed[j].failedAt) })
	for _, f := range failed[:len(failed)-c.maxFailed] {
		delete(c.pending, f.id)
	}
}

// Status resolves a public run id against pending runs first, then the store.
func (c *Controller) Status(ctx context.Context, publicID string) (*models.RunSummary, error) {
	c.mu.Lock()
	c.pruneLocked(time.Now())
	if p, ok := c.pending[publicID]; ok {
		cp := p.summary
		c.mu.Unlock()
		return &cp, nil
	}
	c.mu.Unlock()

	run, err := c.runs.RunByPublicID(ctx, publicID)
	if err != nil {
		return nil, fmt.Errorf("look up run: %w", err)
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return run.Summary(), nil
}

// List returns summaries of persisted runs, newest first.
func (c *Controller) List(ctx context.Context, limit int) ([]*models.RunSummary, error) {
	runs, err := c.runs.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]*models.RunSummary, len(runs))
	for i, r := range runs {
		out[i] = r.Summary()
	}
	return out, nil
}

// execute parses, clusters, classifies and persists one run. Titles and the
// run row are written in a single transaction: a failure anywhere leaves no
// run record. A hash race against a concurrent identical upload resolves to
// the winner's summary.
func (c *Controller) execute(ctx context.Context, run *models.UploadRun, content []byte) (*models.RunSummary, error) {
	rawTitles, err := ingest.Titles(content, run.Filename)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", run.Filename, err)
	}

	clustered, err := c.engine.Cluster(ctx, rawTitles, c.threshold)
	if err != nil {
		return nil, fmt.Errorf("cluster titles: %w", err)
	}

	records, err := c.classifyRepresentatives(ctx, clustered.Clusters)
	if err != nil {
		return nil, err
	}

	run.Processed = len(rawTitles)
	run.ClusterCount = len(clustered.Clusters)
	run.Status = models.RunStatusCompleted

	if err := c.runs.CompleteRun(ctx, run, records); err != nil {
		if errors.Is(err, db.ErrRunExists) {
			winner, lookupErr := c.runs.RunByHash(ctx, run.FileHash)
			if lookupErr != nil || winner == nil {
				return nil, fmt.Errorf("resolve run conflict: %w", lookupErr)
			}
			summary := winner.Summary()
			summary.DuplicateRun = true
			return summary, nil
		}
		return nil, fmt.Errorf("persist run: %w", err)
	}

	log.Info().
		Str("run_id", run.PublicID).
		Str("filename", run.Filename).
		Int("processed", run.Processed).
		Int("saved", run.Saved).
		Int("clusters", run.ClusterCount).
		Msg("Upload run completed")

	return run.Summary(), nil
}

// classifyRepresentatives scores each cluster leader against the persisted
// corpus and builds the records to save. A leader matching the corpus at or
// above the threshold is a duplicate: it is dropped here and lands in the
// run's duplicate count, never in storage. Leaders use canonical
// normalization (numerals kept) for persistence; one batch embedding call
// covers them all.
func (c *Controller) classifyRepresentatives(ctx context.Context, clusters []dedup.Cluster) ([]*models.Title, error) {
	if len(clusters) == 0 {
		return nil, nil
	}

	norms := make([]string, 0, len(clusters))
	leaders := make([]string, 0, len(clusters))
	for _, cl := range clusters {
		norm := normalize.Normalize(cl.Leader)
		if norm == "" {
			continue
		}
		norms = append(norms, norm)
		leaders = append(leaders, cl.Leader)
	}
	if len(norms) == 0 {
		return nil, nil
	}

	vecs, err := c.embedder.EmbedBatch(ctx, norms)
	if err != nil {
		return nil, fmt.Errorf("embed representatives: %w", err)
	}

	corpus, err := c.corpus(ctx, vecs)
	if err != nil {
		return nil, err
	}

	records := make([]*models.Title, 0, len(norms))
	for i, norm := range norms {
		res := c.classify.ClassifyVector(norm, vecs[i], corpus, c.threshold)
		if res.Duplicate {
			continue
		}
		rec := &models.Title{
			Title:           leaders[i],
			NormalizedTitle: norm,
			Embedding:       vecs[i],
			MatchScore:      res.Score,
		}
		if res.Match != nil {
			rec.MatchedID = &res.Match.ID
		}
		records = append(records, rec)
	}
	return records, nil
}

// corpus loads the scan snapshot once per run. The pre-filter union over all
// representative vectors degenerates quickly, so bulk runs always take the
// full snapshot unless a candidate limit is set, in which case the limit
// applies per representative via a merged id set.
func (c *Controller) corpus(ctx context.Context, vecs [][]float32) ([]*models.Title, error) {
	if c.candidateLimit <= 0 {
		all, err := c.titles.AllTitles(ctx)
		if err != nil {
			return nil, fmt.Errorf("load corpus: %w", err)
		}
		return all, nil
	}

	seen := make(map[int64]bool)
	var merged []*models.Title
	for _, vec := range vecs {
		near, err := c.titles.NearestTitles(ctx, vec, c.candidateLimit)
		if err != nil {
			return nil, fmt.Errorf("load candidates: %w", err)
		}
		for _, t := range near {
			if !seen[t.ID] {
				seen[t.ID] = true
				merged = append(merged, t)
			}
		}
	}
	// Keep corpus-order semantics for the first-max-wins scan.
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	return merged, nil
}
