package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clearoid/clearoid/internal/db"
	"github.com/clearoid/clearoid/internal/similarity"
	"github.com/clearoid/clearoid/pkg/models"
)

// FakeTitleStore is an in-memory db.TitleStore. It enforces the same
// normalized-title uniqueness and insertion-order guarantees as the real
// store so service-level behavior can be tested without Postgres.
type FakeTitleStore struct {
	mu     sync.Mutex
	nextID int64
	titles []*models.Title

	// InsertErr, when set, is returned from InsertTitle.
	InsertErr error
}

// NewFakeTitleStore returns an empty in-memory title store.
func NewFakeTitleStore() *FakeTitleStore {
	return &FakeTitleStore{nextID: 1}
}

// Seed inserts a record directly, bypassing uniqueness checks.
func (s *FakeTitleStore) Seed(t *models.Title) *models.Title {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.nextID
	}
	if t.ID >= s.nextID {
		s.nextID = t.ID + 1
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.titles = append(s.titles, t)
	return t
}

func (s *FakeTitleStore) AllTitles(ctx context.Context) ([]*models.Title, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Title, len(s.titles))
	copy(out, s.titles)
	return out, nil
}

func (s *FakeTitleStore) TitleByID(ctx context.Context, id int64) (*models.Title, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.titles {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, nil
}

func (s *FakeTitleStore) TitleByNormalized(ctx context.Context, normalized string) (*models.Title, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.titles {
		if t.NormalizedTitle == normalized {
			return t, nil
		}
	}
	return nil, nil
}

func (s *FakeTitleStore) NearestTitles(ctx context.Context, vec []float32, limit int) ([]*models.Title, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		t   *models.Title
		sim float64
	}
	candidates := make([]scored, len(s.titles))
	for i, t := range s.titles {
		candidates[i] = scored{t: t, sim: similarity.Cosine(vec, t.Embedding)}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].sim > candidates[j].sim
	})
	if limit < len(candidates) {
		candidates = candidates[:limit]
	}
	// Same contract as the real store: candidates come back in id order.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].t.ID < candidates[j].t.ID
	})
	out := make([]*models.Title, len(candidates))
	for i, c := range candidates {
		out[i] = c.t
	}
	return out, nil
}

func (s *FakeTitleStore) TitleCounts(ctx context.Context) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dups int64
	for _, t := range s.titles {
		if t.IsDuplicate {
			dups++
		}
	}
	return int64(len(s.titles)), dups, nil
}

func (s *FakeTitleStore) InsertTitle(ctx context.Context, t *models.Title) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return s.InsertErr
	}
	for _, existing := range s.titles {
		if existing.NormalizedTitle == t.NormalizedTitle {
			return db.ErrNormalizedExists
		}
	}
	t.ID = s.nextID
	s.nextID++
	t.CreatedAt = time.Now().UTC()
	s.titles = append(s.titles, t)
	return nil
}

func (s *FakeTitleStore) DeleteTitle(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.titles {
		if t.ID == id {
			s.titles = append(s.titles[:i], s.titles[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *FakeTitleStore) DeleteTitles(ctx context.Context, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	kept := s.titles[:0]
	var deleted int64
	for _, t := range s.titles {
		if want[t.ID] {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	s.titles = kept
	return deleted, nil
}

var _ db.TitleStore = (*FakeTitleStore)(nil)

// FakeRunStore is an in-memory db.RunStore sharing a FakeTitleStore for the
// transactional CompleteRun semantics.
type FakeRunStore struct {
	mu     sync.Mutex
	nextID int64
	runs   []*models.UploadRun

	Titles *FakeTitleStore
	// CompleteErr, when set, is returned from CompleteRun before any write.
	CompleteErr error
}

// NewFakeRunStore returns an empty run store writing titles into titles.
func NewFakeRunStore(titles *FakeTitleStore) *FakeRunStore {
	return &FakeRunStore{nextID: 1, Titles: titles}
}

func (s *FakeRunStore) RunByHash(ctx context.Context, hash string) (*models.UploadRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.FileHash == hash {
			return r, nil
		}
	}
	return nil, nil
}

func (s *FakeRunStore) RunByPublicID(ctx context.Context, publicID string) (*models.UploadRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.PublicID == publicID {
			return r, nil
		}
	}
	return nil, nil
}

func (s *FakeRunStore) ListRuns(ctx context.Context, limit int) ([]*models.UploadRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.UploadRun, len(s.runs))
	copy(out, s.runs)
	// Newest first, as the real store lists them.
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *FakeRunStore) CompleteRun(ctx context.Context, run *models.UploadRun, titles []*models.Title) error {
	if s.CompleteErr != nil {
		return s.CompleteErr
	}

	s.mu.Lock()
	for _, r := range s.runs {
		if r.FileHash == run.FileHash {
			s.mu.Unlock()
			return db.ErrRunExists
		}
	}
	s.mu.Unlock()

	saved := 0
	for _, t := range titles {
		if err := s.Titles.InsertTitle(ctx, t); err != nil {
			if err == db.ErrNormalizedExists {
				continue
			}
			return err
		}
		saved++
	}
	run.Saved = saved
	run.Duplicates = run.Processed - saved

	s.mu.Lock()
	defer s.mu.Unlock()
	run.ID = s.nextID
	s.nextID++
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	s.runs = append(s.runs, run)
	return nil
}

var _ db.RunStore = (*FakeRunStore)(nil)
