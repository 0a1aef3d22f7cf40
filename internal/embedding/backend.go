// Package embedding provides text embedding generation with swappable backends.
package embedding

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when every configured backend failed to produce
// an embedding. Callers must not persist records without a valid embedding.
var ErrUnavailable = errors.New("embedding unavailable: all backends failed")

// Backend is a single embedding source. Implementations must return vectors
// of exactly Dimensions() length for the lifetime of the backend.
type Backend interface {
	// Name returns the backend identifier used in logs and configuration.
	Name() string

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Close releases backend resources.
	Close() error
}
