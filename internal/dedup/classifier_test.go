package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearoid/clearoid/internal/normalize"
	"github.com/clearoid/clearoid/internal/testutil"
	"github.com/clearoid/clearoid/pkg/models"
)

// corpusOf builds title records with embeddings from the fake embedder.
func corpusOf(emb *testutil.FakeEmbedder, titles ...string) []*models.Title {
	corpus := make([]*models.Title, len(titles))
	for i, raw := range titles {
		norm := normalize.Normalize(raw)
		corpus[i] = &models.Title{
			ID:              int64(i + 1),
			Title:           raw,
			NormalizedTitle: norm,
			Embedding:       emb.Vector(norm),
		}
	}
	return corpus
}

func TestClassify_EmptyCorpus(t *testing.T) {
	emb := testutil.NewFakeEmbedder()
	c := NewClassifier(emb)

	res, err := c.Classify(context.Background(), "Smart Traffic Light Control", nil, 0.85)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 0.0, res.Score)
	assert.Nil(t, res.Match)
	assert.Equal(t, 0, emb.Calls, "empty corpus needs no embedding")
}

func TestClassify_EmptyTitle(t *testing.T) {
	c := NewClassifier(testutil.NewFakeEmbedder())

	_, err := c.Classify(context.Background(), "  !!! ", nil, 0.85)
	assert.ErrorIs(t, err, ErrEmptyTitle)
}

func TestClassify_ExactResubmission(t *testing.T) {
	emb := testutil.NewFakeEmbedder()
	c := NewClassifier(emb)
	corpus := corpusOf(emb, "Smart Traffic Light Control")

	res, err := c.Classify(context.Background(), "Smart Traffic Light Control", corpus, 0.85)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, 1.0, res.Score)
	require.NotNil(t, res.Match)
	assert.Equal(t, int64(1), res.Match.ID)
	assert.Equal(t, "Smart Traffic Light Control", res.Match.Title)
}

func TestClassify_Unrelated(t *testing.T) {
	emb := testutil.NewFakeEmbedder()
	c := NewClassifier(emb)
	corpus := corpusOf(emb, "Recipe Sharing Platform")

	res, err := c.Classify(context.Background(), "Smart Traffic Light Control", corpus, 0.85)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Less(t, res.Score, 0.85)
	require.NotNil(t, res.Match, "best match is reported even below threshold")
}

func TestClassify_ThresholdBoundaryInclusive(t *testing.T) {
	emb := testutil.NewFakeEmbedder()
	c := NewClassifier(emb)
	corpus := corpusOf(emb, "Smart Traffic Light Control")

	// Pin the boundary by classifying at exactly the observed score:
	// a pair scoring exactly at threshold is a duplicate (>=, not >).
	res, err := c.Classify(context.Background(), "Smart Traffic Light Controller", corpus, 0.5)
	require.NoError(t, err)

	again, err := c.Classify(context.Background(), "Smart Traffic Light Controller", corpus, res.Score)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)

	above, err := c.Classify(context.Background(), "Smart Traffic Light Controller", corpus, res.Score+0.0001)
	require.NoError(t, err)
	assert.False(t, above.Duplicate)
}

func TestClassify_FirstMaxWins(t *testing.T) {
	emb := testutil.NewFakeEmbedder()
	c := NewClassifier(emb)
	// Two records with identical normalized text score identically; the
	// first in corpus order must win.
	corpus := []*models.Title{
		{ID: 7, Title: "Smart Traffic System", NormalizedTitle: "smart traffic system", Embedding: emb.Vector("smart traffic system")},
		{ID: 9, Title: "Smart-Traffic System!", NormalizedTitle: "smart traffic system", Embedding: emb.Vector("smart traffic system")},
	}

	res, err := c.Classify(context.Background(), "smart traffic system", corpus, 0.85)
	require.NoError(t, err)
	require.NotNil(t, res.Match)
	assert.Equal(t, int64(7), res.Match.ID)
}

func TestClassify_SkipsCorruptVectors(t *testing.T) {
	emb := testutil.NewFakeEmbedder()
	c := NewClassifier(emb)

	corpus := corpusOf(emb, "Smart Traffic Light Control")
	corpus[0].Embedding = []float32{1, 2, 3} // wrong length

	res, err := c.Classify(context.Background(), "Smart Traffic Light Control", corpus, 0.85)
	require.NoError(t, err, "corrupt vectors degrade the scan, not fail it")
	assert.False(t, res.Duplicate)
	assert.Nil(t, res.Match)
}

func TestClassify_EmbedderFailure(t *testing.T) {
	emb := testutil.NewFakeEmbedder()
	corpus := corpusOf(emb, "Smart Traffic Light Control")
	emb.Err = assert.AnError
	c := NewClassifier(emb)

	_, err := c.Classify(context.Background(), "Smart Traffic Light", corpus, 0.85)
	assert.Error(t, err)
}

func TestFindSimilar_SortedDescending(t *testing.T) {
	emb := testutil.NewFakeEmbedder()
	c := NewClassifier(emb)
	corpus := corpusOf(emb,
		"Smart Traffic Light Control",
		"Smart Traffic Management System",
		"Recipe Sharing Platform",
	)

	matches, err := c.FindSimilar(context.Background(), "Smart Traffic Light Control System", corpus, 0.3)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
	assert.Equal(t, int64(1), matches[0].ID)
}

func TestFindSimilar_ThresholdFiltersOut(t *testing.T) {
	emb := testutil.NewFakeEmbedder()
	c := NewClassifier(emb)
	corpus := corpusOf(emb, "Recipe Sharing Platform")

	matches, err := c.FindSimilar(context.Background(), "Smart Traffic Light Control", corpus, 0.95)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFindSimilar_EmptyTitle(t *testing.T) {
	c := NewClassifier(testutil.NewFakeEmbedder())

	_, err := c.FindSimilar(context.Background(), "", nil, 0.75)
	assert.ErrorIs(t, err, ErrEmptyTitle)
}
