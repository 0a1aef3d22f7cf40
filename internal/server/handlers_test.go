package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearoid/clearoid/internal/embedding"
	"github.com/clearoid/clearoid/internal/testutil"
	"github.com/clearoid/clearoid/internal/titles"
	"github.com/clearoid/clearoid/internal/upload"
)

type okPinger struct{ err error }

func (p okPinger) Ping() error { return p.err }

func newTestServer(t *testing.T) (*Service, *testutil.FakeTitleStore, *testutil.FakeRunStore) {
	t.Helper()
	store := testutil.NewFakeTitleStore()
	runs := testutil.NewFakeRunStore(store)
	emb := testutil.NewFakeEmbedder()
	th := titles.Thresholds{Insert: 0.85, Similar: 0.75, Search: 0.70}
	svc := NewService("test",
		titles.NewService(store, emb, th, 0),
		upload.NewController(store, runs, emb, 0.85, 0),
		okPinger{},
	)
	return svc, store, runs
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(into))
}

func TestHealthAndReady(t *testing.T) {
	svc, _, _ := newTestServer(t)

	rec := doJSON(t, svc.Router(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, svc.Router(), http.MethodGet, "/api/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReady_StoreDown(t *testing.T) {
	store := testutil.NewFakeTitleStore()
	runs := testutil.NewFakeRunStore(store)
	emb := testutil.NewFakeEmbedder()
	th := titles.Thresholds{Insert: 0.85, Similar: 0.75, Search: 0.70}
	svc := NewService("test",
		titles.NewService(store, emb, th, 0),
		upload.NewController(store, runs, emb, 0.85, 0),
		okPinger{err: fmt.Errorf("connection refused")},
	)

	rec := doJSON(t, svc.Router(), http.MethodGet, "/api/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmit_CreatedThenDuplicate(t *testing.T) {
	svc, _, _ := newTestServer(t)

	rec := doJSON(t, svc.Router(), http.MethodPost, "/api/titles", map[string]string{"title": "Smart Traffic Light Control"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var first struct {
		Duplicate bool    `json:"duplicate"`
		Score     float64 `json:"score"`
	}
	decodeBody(t, rec, &first)
	assert.False(t, first.Duplicate)
	assert.Equal(t, 0.0, first.Score)

	rec = doJSON(t, svc.Router(), http.MethodPost, "/api/titles", map[string]string{"title": "Smart Traffic Light Control"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var second struct {
		Duplicate bool    `json:"duplicate"`
		Score     float64 `json:"score"`
	}
	decodeBody(t, rec, &second)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1.0, second.Score)
}

func TestSubmit_EmptyTitle(t *testing.T) {
	svc, _, _ := newTestServer(t)

	rec := doJSON(t, svc.Router(), http.MethodPost, "/api/titles", map[string]string{"title": "  !!! "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmit_InvalidBody(t *testing.T) {
	svc, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/titles", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmit_InvalidThreshold(t *testing.T) {
	svc, _, _ := newTestServer(t)

	rec := doJSON(t, svc.Router(), http.MethodPost, "/api/titles?threshold=1.5", map[string]string{"title": "X App"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheck_EmbedderDown(t *testing.T) {
	store := testutil.NewFakeTitleStore()
	runs := testutil.NewFakeRunStore(store)
	emb := testutil.NewFakeEmbedder()
	down := testutil.NewFakeEmbedder()
	down.Err = fmt.Errorf("%w: all backends failed", embedding.ErrUnavailable)
	th := titles.Thresholds{Insert: 0.85, Similar: 0.75, Search: 0.70}
	svc := NewService("test",
		titles.NewService(store, down, th, 0),
		upload.NewController(store, runs, emb, 0.85, 0),
		okPinger{},
	)

	rec := doJSON(t, svc.Router(), http.MethodPost, "/api/titles/check", map[string]string{"title": "Smart Traffic Light"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSimilarEndpoint(t *testing.T) {
	svc, _, _ := newTestServer(t)

	doJSON(t, svc.Router(), http.MethodPost, "/api/titles", map[string]string{"title": "Smart Traffic Light Control"})

	rec := doJSON(t, svc.Router(), http.MethodPost, "/api/titles/similar?threshold=0.3", map[string]string{"title": "Smart Traffic Light Control System"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Matches []struct {
			Title string  `json:"title"`
			Score float64 `json:"score"`
		} `json:"matches"`
	}
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "Smart Traffic Light Control", resp.Matches[0].Title)
}

func TestSearchEndpoint(t *testing.T) {
	store := testutil.NewFakeTitleStore()
	runs := testutil.NewFakeRunStore(store)
	emb := testutil.NewFakeEmbedder()
	th := titles.Thresholds{Insert: 0.85, Similar: 0.95, Search: 0.3}
	svc := NewService("test",
		titles.NewService(store, emb, th, 0),
		upload.NewController(store, runs, emb, 0.85, 0),
		okPinger{},
	)

	doJSON(t, svc.Router(), http.MethodPost, "/api/titles", map[string]string{"title": "Smart Traffic Light Control"})

	var resp struct {
		Matches []struct {
			Title string `json:"title"`
		} `json:"matches"`
	}

	// Below the similar gate, above the search gate.
	rec := doJSON(t, svc.Router(), http.MethodPost, "/api/titles/similar", map[string]string{"title": "Smart Traffic Light Control System"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	assert.Empty(t, resp.Matches)

	rec = doJSON(t, svc.Router(), http.MethodPost, "/api/titles/search", map[string]string{"title": "Smart Traffic Light Control System"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "Smart Traffic Light Control", resp.Matches[0].Title)
}

func TestHistoryEndpoint(t *testing.T) {
	svc, _, _ := newTestServer(t)

	doJSON(t, svc.Router(), http.MethodPost, "/api/titles", map[string]string{"title": "Smart Traffic Light Control"})
	doJSON(t, svc.Router(), http.MethodPost, "/api/titles", map[string]string{"title": "Blockchain Voting App"})

	rec := doJSON(t, svc.Router(), http.MethodGet, "/api/titles", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Titles []struct {
			Title string `json:"title"`
		} `json:"titles"`
		Aggregates struct {
			Total      int64 `json:"total"`
			Unique     int64 `json:"unique"`
			Duplicates int64 `json:"duplicates"`
		} `json:"aggregates"`
	}
	decodeBody(t, rec, &resp)
	assert.Len(t, resp.Titles, 2)
	assert.EqualValues(t, 2, resp.Aggregates.Total)
	assert.EqualValues(t, 2, resp.Aggregates.Unique)
}

func TestExportEndpoint(t *testing.T) {
	svc, _, _ := newTestServer(t)

	doJSON(t, svc.Router(), http.MethodPost, "/api/titles", map[string]string{"title": "Smart Traffic Light Control"})

	req := httptest.NewRequest(http.MethodGet, "/api/titles/export?type=all", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "title", rows[0][1])
	assert.Equal(t, "Smart Traffic Light Control", rows[1][1])
}

func TestDeleteEndpoints(t *testing.T) {
	svc, store, _ := newTestServer(t)

	doJSON(t, svc.Router(), http.MethodPost, "/api/titles", map[string]string{"title": "Smart Traffic Light Control"})
	doJSON(t, svc.Router(), http.MethodPost, "/api/titles", map[string]string{"title": "Blockchain Voting App"})

	rec := doJSON(t, svc.Router(), http.MethodDelete, "/api/titles/1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, svc.Router(), http.MethodDelete, "/api/titles/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, svc.Router(), http.MethodPost, "/api/titles/delete", map[string][]int64{"ids": {2}})
	assert.Equal(t, http.StatusOK, rec.Code)

	total, _, err := store.TitleCounts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func uploadRequest(t *testing.T, content []byte, filename string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadEndToEnd(t *testing.T) {
	svc, _, runs := newTestServer(t)

	content := []byte("title\nAI Based Smart Traffic System\nai-based smart traffic system\nBlockchain Voting App\n")
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, uploadRequest(t, content, "batch.csv"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var accepted struct {
		RunID string `json:"run_id"`
	}
	decodeBody(t, rec, &accepted)
	require.NotEmpty(t, accepted.RunID)

	require.Eventually(t, func() bool {
		run, err := runs.RunByPublicID(context.Background(), accepted.RunID)
		return err == nil && run != nil
	}, 5*time.Second, 10*time.Millisecond)

	rec = doJSON(t, svc.Router(), http.MethodGet, "/api/uploads/"+accepted.RunID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Status   string `json:"status"`
		Clusters int    `json:"clusters"`
	}
	decodeBody(t, rec, &status)
	assert.Equal(t, "completed", status.Status)
	assert.Equal(t, 2, status.Clusters)

	rec = doJSON(t, svc.Router(), http.MethodGet, "/api/uploads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUpload_MissingFile(t *testing.T) {
	svc, _, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunStatus_NotFound(t *testing.T) {
	svc, _, _ := newTestServer(t)

	rec := doJSON(t, svc.Router(), http.MethodGet, "/api/uploads/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
