package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Jina v3 task adapters. Queries and stored passages are embedded with
// different adapters so that short queries land near the passages they match.
const (
	jinaTaskQuery   = "retrieval.query"
	jinaTaskPassage = "retrieval.passage"
)

type jinaRequest struct {
	Model string   `json:"model"`
	Task  string   `json:"task,omitempty"`
	Input []string `json:"input"`
}

type jinaResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// JinaProvider implements Embedder using the Jina AI HTTP API.
// Single embeddings are treated as queries and bypass the document cache;
// batches are treated as passages.
type JinaProvider struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	cache    *Cache
	retry    RetryConfig
}

// NewJinaProvider creates a Jina AI embedder. Empty model and baseURL use the defaults.
func NewJinaProvider(apiKey, model, baseURL string, cache *Cache) (*JinaProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: jina api key not set", ErrNoProviderEnabled)
	}
	if model == "" {
		model = DefaultJinaModel
	}
	if baseURL == "" {
		baseURL = DefaultJinaBaseURL
	}

	return &JinaProvider{
		apiKey:   apiKey,
		model:    model,
		endpoint: strings.TrimRight(baseURL, "/") + "/embeddings",
		client:   &http.Client{Timeout: 30 * time.Second},
		cache:    cache,
		retry:    DefaultRetryConfig(),
	}, nil
}

// GenerateEmbedding embeds a retrieval query
func (j *JinaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	embeddings, err := j.embed(ctx, []string{req.Text}, j.modelFor(req.Model), jinaTaskQuery)
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// GenerateBatch embeds stored passages, reusing cached vectors
func (j *JinaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	model := j.modelFor(req.Model)

	embeddings, err := cachedBatch(j.cache, req.Texts, func(texts []string) ([]*Embedding, error) {
		return j.embed(ctx, texts, model, jinaTaskPassage)
	})
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{Embeddings: embeddings, Provider: ProviderJina, Model: model}, nil
}

func (j *JinaProvider) modelFor(override string) string {
	if override != "" {
		return override
	}
	return j.model
}

func (j *JinaProvider) embed(ctx context.Context, texts []string, model, task string) ([]*Embedding, error) {
	embeddings, err := retryWithBackoff(ctx, j.retry, func() ([]*Embedding, error) {
		return j.post(ctx, jinaRequest{Model: model, Task: task, Input: texts})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: jina: %w", ErrProviderFailed, err)
	}
	return embeddings, nil
}

// post sends one request. Client errors other than 429 are permanent.
func (j *JinaProvider) post(ctx context.Context, payload jinaRequest) ([]*Embedding, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+j.apiKey)

	resp, err := j.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanent(apiErr)
		}
		return nil, apiErr
	}

	var decoded jinaResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return decoded.embeddings(len(payload.Input))
}

// embeddings orders the response data by index
func (r jinaResponse) embeddings(want int) ([]*Embedding, error) {
	if len(r.Data) != want {
		return nil, fmt.Errorf("expected %d embeddings, got %d", want, len(r.Data))
	}

	out := make([]*Embedding, want)
	for _, d := range r.Data {
		if d.Index < 0 || d.Index >= want || out[d.Index] != nil {
			return nil, permanent(fmt.Errorf("bad embedding index %d", d.Index))
		}
		out[d.Index] = &Embedding{
			Vector:    d.Embedding,
			Dimension: len(d.Embedding),
			Provider:  ProviderJina,
			Model:     r.Model,
		}
	}
	return out, nil
}

func (j *JinaProvider) Dimension() int { return JinaDimension }

func (j *JinaProvider) Provider() string { return ProviderJina }

func (j *JinaProvider) Model() string { return j.model }

// Close drops idle keep-alive connections
func (j *JinaProvider) Close() error {
	j.client.CloseIdleConnections()
	return nil
}
