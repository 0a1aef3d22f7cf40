package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	openAIDefaultBaseURL = "https://api.openai.com/v1"
	openAIDefaultModel   = "text-embedding-3-small"
	openAIHTTPTimeout    = 30 * time.Second
)

// OpenAIConfig configures the OpenAI-compatible REST backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions is sent to the API so the remote basis matches the local
	// backend and the stored corpus. Required for a working fallback chain.
	Dimensions int
}

type openAIBackend struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
}

var _ Backend = (*openAIBackend)(nil)

type openAIEmbedRequest struct {
	Input          any    `json:"input"`
	Model          string `json:"model"`
	EncodingFormat string `json:"encoding_format"`
	Dimensions     int    `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// NewOpenAI creates the OpenAI-compatible backend (supports LiteLLM proxies).
func NewOpenAI(cfg OpenAIConfig) (Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("EMBEDDING_API_KEY is required for openai backend")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIDefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("openai backend requires explicit dimensions")
	}

	return &openAIBackend{
		client:     &http.Client{Timeout: openAIHTTPTimeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (b *openAIBackend) Name() string    { return "openai" }
func (b *openAIBackend) Dimensions() int { return b.dimensions }
func (b *openAIBackend) Close() error    { return nil }

func (b *openAIBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	results, err := b.embedRequest(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("embedding API returned no results for model %s", b.model)
	}
	return results[0], nil
}

func (b *openAIBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results, err := b.embedRequest(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(results) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d results for %d inputs (model=%s)",
			len(results), len(texts), b.model)
	}
	return results, nil
}

func (b *openAIBackend) embedRequest(ctx context.Context, input any) ([][]float32, error) {
	body, err := json.Marshal(openAIEmbedRequest{
		Input:          input,
		Model:          b.model,
		EncodingFormat: "float",
		Dimensions:     b.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send embedding request to %s: %w", b.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding API error (model=%s, status=%d): %s",
			b.model, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var embedResp openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("decode embedding response from %s: %w", b.baseURL, err)
	}

	// The API does not guarantee input order.
	sort.Slice(embedResp.Data, func(i, j int) bool {
		return embedResp.Data[i].Index < embedResp.Data[j].Index
	})

	results := make([][]float32, len(embedResp.Data))
	for i, d := range embedResp.Data {
		if len(d.Embedding) != b.dimensions {
			return nil, fmt.Errorf("embedding API returned %d dimensions, expected %d (model=%s)",
				len(d.Embedding), b.dimensions, b.model)
		}
		results[i] = d.Embedding
	}
	return results, nil
}
