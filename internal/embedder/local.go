package embedder

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/dshills/recall-mcp/internal/tokenize"
)

// LocalProvider produces deterministic feature-hashing embeddings offline.
// Each token lands in one of LocalDimension buckets with a hashed sign, so
// texts sharing vocabulary have positive cosine similarity. Identifier tokens
// are split the same way the keyword scorer splits them.
type LocalProvider struct {
	cache *Cache
}

// NewLocalProvider creates a local embedder. cache may be nil.
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	return &LocalProvider{cache: cache}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := ComputeHash(req.Text)
	if l.cache != nil {
		if emb, ok := l.cache.Get(key); ok {
			return emb, nil
		}
	}

	emb := &Embedding{
		Vector:    hashingVector(req.Text),
		Dimension: LocalDimension,
		Provider:  ProviderLocal,
		Model:     DefaultLocalModel,
		Hash:      key,
	}
	if l.cache != nil {
		l.cache.Set(key, emb)
	}
	return emb, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	out := &BatchEmbeddingResponse{
		Embeddings: make([]*Embedding, 0, len(req.Texts)),
		Provider:   ProviderLocal,
		Model:      DefaultLocalModel,
	}
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		out.Embeddings = append(out.Embeddings, emb)
	}
	return out, nil
}

func (l *LocalProvider) Dimension() int   { return LocalDimension }
func (l *LocalProvider) Provider() string { return ProviderLocal }
func (l *LocalProvider) Model() string    { return DefaultLocalModel }
func (l *LocalProvider) Close() error     { return nil }

func hashingVector(text string) []float32 {
	vector := make([]float32, LocalDimension)
	h := fnv.New64a()
	for _, tok := range tokenize.Tokens(text) {
		h.Reset()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()

		bucket := sum % LocalDimension
		if sum>>63 == 1 {
			vector[bucket]--
		} else {
			vector[bucket]++
		}
	}
	return NormalizeVector(vector)
}
