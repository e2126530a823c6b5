package storage

import (
	"context"
	"time"

	"github.com/dshills/recall-mcp/pkg/types"
)

// KeywordSearcher runs full-text search. Returned chunks carry KeywordRank,
// where lower values are more relevant. An empty kind means no filter.
type KeywordSearcher interface {
	KeywordSearch(ctx context.Context, query string, limit int, kind types.ChunkKind, includeEmbeddings bool) ([]*types.Chunk, error)
}

// ActivationSearcher returns chunks ranked by activation, highest first
type ActivationSearcher interface {
	ActivationSearch(ctx context.Context, minActivation float64, limit int, kind types.ChunkKind, includeEmbeddings bool) ([]*types.Chunk, error)
}

// EmbeddingFetcher loads stored embeddings for a set of chunks.
// Chunks without an embedding are absent from the result.
type EmbeddingFetcher interface {
	FetchEmbeddings(ctx context.Context, chunkIDs []string) (map[string][]float32, error)
}

// AccessStatsFetcher returns the usage record of a single chunk
type AccessStatsFetcher interface {
	AccessStats(ctx context.Context, chunkID string) (types.AccessStats, error)
}

// BatchAccessStatsFetcher returns usage records for many chunks in one call
type BatchAccessStatsFetcher interface {
	BatchAccessStats(ctx context.Context, chunkIDs []string) (map[string]types.AccessStats, error)
}

// Store is the minimum a retriever needs. Keyword search, two-phase embedding
// fetch and batch access stats are discovered through the optional interfaces.
type Store interface {
	ActivationSearcher
	AccessStatsFetcher
}

// Writer persists chunks and their embeddings
type Writer interface {
	UpsertChunk(ctx context.Context, chunk *types.Chunk) error
	UpsertEmbedding(ctx context.Context, embedding *Embedding) error
	DeleteChunk(ctx context.Context, chunkID string) error
}

// Storage is the full SQLite-backed chunk store
type Storage interface {
	Store
	KeywordSearcher
	EmbeddingFetcher
	BatchAccessStatsFetcher
	Writer

	// Chunk reads
	GetChunk(ctx context.Context, chunkID string) (*types.Chunk, error)

	// Activation bookkeeping
	UpdateActivation(ctx context.Context, chunkID string, activation float64) error
	RecordAccess(ctx context.Context, chunkIDs []string, at time.Time) error

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a write transaction
type Tx interface {
	Commit() error
	Rollback() error
	Writer
}

// Embedding is a stored vector for a chunk
type Embedding struct {
	ChunkID   string
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	CreatedAt time.Time
}

// Status contains statistics about the store
type Status struct {
	ChunksCount     int
	CodeChunks      int
	KnowledgeChunks int
	EmbeddingsCount int
	IndexSizeMB     float64
	SchemaVersion   string
	BuildMode       string
	LastUpdatedAt   time.Time
	Health          HealthStatus
}

// HealthStatus represents the health of the index
type HealthStatus struct {
	DatabaseAccessible  bool
	EmbeddingsAvailable bool
	FTSIndexBuilt       bool
}
