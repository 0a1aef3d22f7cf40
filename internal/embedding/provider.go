package embedding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Provider tries an ordered chain of backends until one succeeds. A failing
// backend produces a warning and the next backend is tried; there is no
// value-level sentinel, so a failure can never masquerade as a legitimate
// low-similarity vector. When every backend fails, ErrUnavailable is returned.
type Provider struct {
	chain      []Backend
	dimensions int
}

// NewProvider builds a provider from the preferred backend followed by its
// fallbacks. All backends must agree on dimensionality so that stored vectors
// stay in one basis for the process lifetime.
func NewProvider(preferred Backend, fallbacks ...Backend) (*Provider, error) {
	if preferred == nil {
		return nil, fmt.Errorf("embedding provider requires at least one backend")
	}
	chain := append([]Backend{preferred}, fallbacks...)
	dims := preferred.Dimensions()
	for _, b := range chain[1:] {
		if b.Dimensions() != dims {
			return nil, fmt.Errorf("backend %s produces %d-dimensional vectors, chain requires %d",
				b.Name(), b.Dimensions(), dims)
		}
	}
	return &Provider{chain: chain, dimensions: dims}, nil
}

// Dimensions returns the vector size shared by every backend in the chain.
func (p *Provider) Dimensions() int {
	return p.dimensions
}

// Embed generates an embedding for a single text through the fallback chain.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for _, b := range p.chain {
		vec, err := b.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("backend", b.Name()).Msg("Embedding backend failed, trying next")
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// EmbedBatch generates embeddings for multiple texts through the fallback
// chain. The whole batch goes to a single backend so every vector in the
// result shares one model.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var lastErr error
	for _, b := range p.chain {
		vecs, err := b.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("backend", b.Name()).Int("batch", len(texts)).
			Msg("Embedding backend failed, trying next")
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// Close releases every backend in the chain, returning the first error.
func (p *Provider) Close() error {
	var first error
	for _, b := range p.chain {
		if err := b.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
