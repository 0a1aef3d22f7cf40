package server

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/clearoid/clearoid/internal/dedup"
	"github.com/clearoid/clearoid/internal/embedding"
	"github.com/clearoid/clearoid/internal/ingest"
	"github.com/clearoid/clearoid/internal/titles"
	"github.com/clearoid/clearoid/internal/upload"
)

// writeJSON writes a JSON response with proper error handling.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dedup.ErrEmptyTitle):
		status = http.StatusBadRequest
	case errors.Is(err, embedding.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ingest.ErrUnsupportedFormat), errors.Is(err, ingest.ErrNoTitleColumn):
		status = http.StatusBadRequest
	case errors.Is(err, upload.ErrRunNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// titleRequest is the body for submit/check/similar.
type titleRequest struct {
	Title string `json:"title"`
}

func decodeTitle(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req titleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return "", false
	}
	return req.Title, true
}

// thresholdParam parses the optional threshold override; 0 means "use the
// configured default".
func thresholdParam(r *http.Request) (float64, error) {
	raw := r.URL.Query().Get("threshold")
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 || v > 1 {
		return 0, fmt.Errorf("invalid threshold %q", raw)
	}
	return v, nil
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.pinger.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	title, ok := decodeTitle(w, r)
	if !ok {
		return
	}
	threshold, err := thresholdParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	out, err := s.titles.Submit(r.Context(), title, threshold)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Service) handleCheck(w http.ResponseWriter, r *http.Request) {
	title, ok := decodeTitle(w, r)
	if !ok {
		return
	}
	threshold, err := thresholdParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	res, err := s.titles.Check(r.Context(), title, threshold)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleSimilar(w http.ResponseWriter, r *http.Request) {
	s.serveMatches(w, r, s.titles.Similar)
}

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.serveMatches(w, r, s.titles.Search)
}

// serveMatches handles the shared body of similar and search: a title in the
// request, optional threshold and limit in the query, matches out.
func (s *Service) serveMatches(w http.ResponseWriter, r *http.Request, find func(context.Context, string, float64, int) ([]dedup.Match, error)) {
	title, ok := decodeTitle(w, r)
	if !ok {
		return
	}
	threshold, err := thresholdParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
	}

	matches, err := find(r.Context(), title, threshold, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"matches": matches})
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, agg, err := s.titles.History(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"titles":     records,
		"aggregates": agg,
	})
}

func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("type")

	var ids []int64
	if raw := r.URL.Query().Get("ids"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid id %q", part)})
				return
			}
			ids = append(ids, id)
		}
	}

	records, err := s.titles.Export(r.Context(), kind, ids)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="titles.csv"`)
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(titles.ExportRows(records)); err != nil {
		log.Error().Err(err).Msg("Failed to write CSV export")
	}
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	ok, err := s.titles.Delete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "title not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Service) handleDeleteBulk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ids required"})
		return
	}

	n, err := s.titles.DeleteBulk(r.Context(), req.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Service) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file field required"})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, MaxUploadBytes+1))
	if err != nil {
		writeError(w, fmt.Errorf("read upload: %w", err))
		return
	}
	if len(content) > MaxUploadBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
		return
	}

	runID, err := s.uploads.Enqueue(content, header.Filename)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Service) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
	}

	runs, err := s.uploads.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Service) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := s.uploads.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
