// Package main provides the entry point for the clearoid server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/clearoid/clearoid/internal/config"
	dbgorm "github.com/clearoid/clearoid/internal/db/gorm"
	"github.com/clearoid/clearoid/internal/embedding"
	"github.com/clearoid/clearoid/internal/server"
	"github.com/clearoid/clearoid/internal/titles"
	"github.com/clearoid/clearoid/internal/upload"
)

var Version = "dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Str("version", Version).
		Str("environment", cfg.Environment).
		Msg("Starting clearoid server")

	store, err := dbgorm.NewStore(dbgorm.Config{
		DSN:           cfg.DatabaseURL,
		EmbeddingDims: cfg.EmbeddingDimensions,
		MaxConns:      cfg.DBMaxConns,
		LogLevel:      logger.Warn,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}()

	provider, err := embedding.NewFromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build embedding provider")
	}
	defer func() {
		if err := provider.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close embedding provider")
		}
	}()

	titleStore := dbgorm.NewTitleStore(store)
	runStore := dbgorm.NewRunStore(store)

	titleSvc := titles.NewService(titleStore, provider, titles.Thresholds{
		Insert:  cfg.InsertThreshold,
		Similar: cfg.SimilarThreshold,
		Search:  cfg.SearchThreshold,
	}, cfg.CandidateLimit)

	uploads := upload.NewController(titleStore, runStore, provider, cfg.InsertThreshold, cfg.CandidateLimit)

	svc := server.NewService(Version, titleSvc, uploads, store)
	if err := svc.Start(cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("Failed to start HTTP server")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := svc.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}

	log.Info().Msg("Server shutdown complete")
}
