// Package server exposes the title deduplication operations over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/clearoid/clearoid/internal/titles"
	"github.com/clearoid/clearoid/internal/upload"
)

const (
	// DefaultHTTPTimeout bounds request handling end to end.
	DefaultHTTPTimeout = 30 * time.Second

	// MaxUploadBytes caps uploaded spreadsheet size.
	MaxUploadBytes = 20 << 20
)

// Pinger reports storage liveness for readiness checks.
type Pinger interface {
	Ping() error
}

// Service is the HTTP service wiring routes to the domain services.
type Service struct {
	version string
	titles  *titles.Service
	uploads *upload.Controller
	pinger  Pinger

	router *chi.Mux
	server *http.Server
}

// NewService builds the router around the given collaborators.
func NewService(version string, titleSvc *titles.Service, uploads *upload.Controller, pinger Pinger) *Service {
	s := &Service{
		version: version,
		titles:  titleSvc,
		uploads: uploads,
		pinger:  pinger,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Service) setupMiddleware() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(middleware.RealIP)
}

func (s *Service) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/ready", s.handleReady)

	s.router.Route("/api/titles", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Post("/check", s.handleCheck)
		r.Post("/similar", s.handleSimilar)
		r.Post("/search", s.handleSearch)
		r.Get("/", s.handleHistory)
		r.Get("/export", s.handleExport)
		r.Delete("/{id}", s.handleDelete)
		r.Post("/delete", s.handleDeleteBulk)
	})

	s.router.Route("/api/uploads", func(r chi.Router) {
		r.Post("/", s.handleUpload)
		r.Get("/", s.handleListRuns)
		r.Get("/{id}", s.handleRunStatus)
	})
}

// Router exposes the handler for tests and embedding in other servers.
func (s *Service) Router() http.Handler {
	return s.router
}

// Start begins serving on port without blocking.
func (s *Service) Start(port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().Int("port", port).Str("version", s.version).Msg("HTTP server started")
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
