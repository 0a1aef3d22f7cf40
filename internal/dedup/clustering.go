package dedup

import (
	"context"

	"github.com/clearoid/clearoid/internal/normalize"
	"github.com/clearoid/clearoid/internal/similarity"
)

// ClusterMember is one title assigned to a cluster, with its score against
// the cluster leader. The leader's own score is fixed at 1.0.
type ClusterMember struct {
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// Cluster groups titles behind their leader, the first member seen.
type Cluster struct {
	// Leader is the representative raw title.
	Leader string `json:"leader"`
	// LeaderNormalized is the bulk-normalized comparison anchor.
	LeaderNormalized string `json:"-"`
	Members          []ClusterMember `json:"members"`
}

// ClusterResult is the outcome of one clustering pass.
type ClusterResult struct {
	Clusters []Cluster `json:"clusters"`
	// Discarded counts rows whose bulk normalization came out empty.
	Discarded int `json:"discarded"`
}

// Representatives returns the leader titles in cluster-creation order.
func (r *ClusterResult) Representatives() []string {
	reps := make([]string, len(r.Clusters))
	for i := range r.Clusters {
		reps[i] = r.Clusters[i].Leader
	}
	return reps
}

// Engine partitions an unordered batch of raw titles into duplicate-groups.
type Engine struct {
	embedder similarity.Embedder
}

// NewEngine creates a clustering engine over the given embedding provider.
func NewEngine(embedder similarity.Embedder) *Engine {
	return &Engine{embedder: embedder}
}

// Cluster runs leader-based greedy clustering: titles are bulk-normalized
// (standalone numerals stripped), embedded in one batch, then assigned in
// input order to the first existing leader scoring >= threshold, scanning
// leaders in creation order; otherwise the title opens a new cluster. The
// grouping is deterministic for a fixed input order and deliberately
// order-dependent.
func (e *Engine) Cluster(ctx context.Context, rawTitles []string, threshold float64) (*ClusterResult, error) {
	type entry struct {
		raw  string
		norm string
		vec  []float32
	}

	entries := make([]entry, 0, len(rawTitles))
	discarded := 0
	for _, raw := range rawTitles {
		norm := normalize.NormalizeBulk(raw)
		if norm == "" {
			discarded++
			continue
		}
		entries = append(entries, entry{raw: raw, norm: norm})
	}

	result := &ClusterResult{Clusters: []Cluster{}, Discarded: discarded}
	if len(entries) == 0 {
		return result, nil
	}

	// One batched embedding call for the whole batch.
	texts := make([]string, len(entries))
	for i := range entries {
		texts[i] = entries[i].norm
	}
	vecs, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].vec = vecs[i]
	}

	type leader struct {
		norm string
		vec  []float32
	}
	leaders := make([]leader, 0)

	for _, ent := range entries {
		assigned := false
		for li := range leaders {
			score := similarity.HybridWithVectors(ent.norm, ent.vec, leaders[li].norm, leaders[li].vec)
			if score >= threshold {
				result.Clusters[li].Members = append(result.Clusters[li].Members, ClusterMember{
					Title: ent.raw,
					Score: score,
				})
				assigned = true
				break
			}
		}
		if assigned {
			continue
		}

		leaders = append(leaders, leader{norm: ent.norm, vec: ent.vec})
		result.Clusters = append(result.Clusters, Cluster{
			Leader:           ent.raw,
			LeaderNormalized: ent.norm,
			Members:          []ClusterMember{{Title: ent.raw, Score: 1.0}},
		})
	}

	return result, nil
}
