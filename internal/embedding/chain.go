package embedding

import (
	"github.com/clearoid/clearoid/internal/config"
)

// NewFromConfig assembles the backend chain from configuration. The preferred
// backend comes first; when the remote backend is preferred the local model
// remains as fallback so transient API failures degrade instead of aborting.
func NewFromConfig(cfg *config.Config) (*Provider, error) {
	local := NewLocal(LocalConfig{
		ModelPath:     cfg.ModelPath,
		TokenizerPath: cfg.TokenizerPath,
		ONNXLibPath:   cfg.ONNXLibPath,
		Dimensions:    cfg.EmbeddingDimensions,
	})

	if cfg.EmbeddingProvider != "openai" {
		return NewProvider(local)
	}

	remote, err := NewOpenAI(OpenAIConfig{
		APIKey:     cfg.EmbeddingAPIKey,
		BaseURL:    cfg.EmbeddingBaseURL,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
	})
	if err != nil {
		return nil, err
	}
	return NewProvider(remote, local)
}
