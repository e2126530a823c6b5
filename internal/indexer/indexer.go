package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/recall-mcp/internal/embedder"
	"github.com/dshills/recall-mcp/internal/log"
	"github.com/dshills/recall-mcp/internal/storage"
	"github.com/dshills/recall-mcp/pkg/types"
)

// ErrIngestInProgress is returned when another ingest holds the lock
var ErrIngestInProgress = errors.New("ingest already in progress")

// Indexer coordinates the ingest pipeline: validate -> embed -> store
type Indexer struct {
	storage  storage.Storage
	embedder embedder.Embedder // nil stores chunks without embeddings
	lock     IndexLock
}

// Config contains configuration for an ingest
type Config struct {
	Workers        int  // Concurrent batches (default: runtime.NumCPU())
	BatchSize      int  // Chunks per embedding call and transaction (default: embedder.DefaultBatchSize)
	SkipEmbeddings bool // Store chunks only
}

// Statistics contains statistics about an ingest
type Statistics struct {
	ChunksIndexed     int
	ChunksFailed      int // Rejected by validation
	EmbeddingsCreated int
	EmbeddingsFailed  int // Stored without an embedding
	Duration          time.Duration
	ErrorMessages     []string
}

// New creates an Indexer. emb may be nil.
func New(store storage.Storage, emb embedder.Embedder) *Indexer {
	return &Indexer{
		storage:  store,
		embedder: emb,
	}
}

// counters are shared by concurrent batches
type counters struct {
	indexed, embedded, embedFailed atomic.Int32

	mu       sync.Mutex
	messages []string
}

func (c *counters) addError(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, fmt.Sprintf(format, args...))
}

// Ingest validates, embeds and stores chunks. Invalid chunks are skipped and
// reported; a failed embedding call stores its batch without vectors. A
// storage failure aborts the ingest, leaving earlier batches committed.
func (idx *Indexer) Ingest(ctx context.Context, chunks []*types.Chunk, config *Config) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIngestInProgress
	}
	defer idx.lock.Release()

	config = withDefaults(config)
	startTime := time.Now()
	c := &counters{}

	valid := make([]*types.Chunk, 0, len(chunks))
	failed := 0
	for i, chunk := range chunks {
		if chunk == nil {
			failed++
			c.addError("chunk %d: nil chunk", i)
			continue
		}
		if err := chunk.Validate(); err != nil {
			failed++
			c.addError("chunk %d (%s): %v", i, chunk.ID, err)
			continue
		}
		valid = append(valid, chunk)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.Workers)

	for i := 0; i < len(valid); i += config.BatchSize {
		end := i + config.BatchSize
		if end > len(valid) {
			end = len(valid)
		}
		batch := valid[i:end]

		g.Go(func() error {
			return idx.ingestBatch(gctx, batch, config, c)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &Statistics{
		ChunksIndexed:     int(c.indexed.Load()),
		ChunksFailed:      failed,
		EmbeddingsCreated: int(c.embedded.Load()),
		EmbeddingsFailed:  int(c.embedFailed.Load()),
		Duration:          time.Since(startTime),
		ErrorMessages:     c.messages,
	}
	if stats.ErrorMessages == nil {
		stats.ErrorMessages = []string{}
	}

	log.Infof("ingested %d chunks (%d embedded, %d rejected) in %s",
		stats.ChunksIndexed, stats.EmbeddingsCreated, stats.ChunksFailed, stats.Duration)
	return stats, nil
}

func withDefaults(config *Config) *Config {
	out := Config{}
	if config != nil {
		out = *config
	}
	if out.Workers <= 0 {
		out.Workers = runtime.NumCPU()
	}
	if out.BatchSize <= 0 {
		out.BatchSize = embedder.DefaultBatchSize
	}
	if out.BatchSize > embedder.MaxBatchSize {
		out.BatchSize = embedder.MaxBatchSize
	}
	return &out
}

// ingestBatch embeds a batch outside the transaction, then writes it
func (idx *Indexer) ingestBatch(ctx context.Context, batch []*types.Chunk, config *Config, c *counters) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var vectors []*embedder.Embedding
	if idx.embedder != nil && !config.SkipEmbeddings {
		var err error
		vectors, err = idx.embedBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.embedFailed.Add(int32(len(batch)))
			c.addError("embedding batch starting at %s: %v", batch[0].ID, err)
			log.Warnf("embedding failed for %d chunks, storing without vectors: %v", len(batch), err)
			vectors = nil
		}
	}

	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	embedded := 0
	for i, chunk := range batch {
		if err := tx.UpsertChunk(ctx, chunk); err != nil {
			return fmt.Errorf("failed to store chunk: %w", err)
		}

		if vectors == nil {
			continue
		}
		emb := vectors[i]
		if err := tx.UpsertEmbedding(ctx, &storage.Embedding{
			ChunkID:   chunk.ID,
			Vector:    emb.Vector,
			Dimension: emb.Dimension,
			Provider:  emb.Provider,
			Model:     emb.Model,
		}); err != nil {
			return fmt.Errorf("failed to store embedding: %w", err)
		}
		embedded++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	c.indexed.Add(int32(len(batch)))
	c.embedded.Add(int32(embedded))
	return nil
}

// embedBatch returns one embedding per chunk, in order
func (idx *Indexer) embedBatch(ctx context.Context, batch []*types.Chunk) ([]*embedder.Embedding, error) {
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.SearchText()
	}

	resp, err := idx.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(batch) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
			embedder.ErrProviderFailed, len(resp.Embeddings), len(batch))
	}
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Vector) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", embedder.ErrProviderFailed, i)
		}
	}
	return resp.Embeddings, nil
}

// Busy reports whether an ingest is running
func (idx *Indexer) Busy() bool {
	return idx.lock.Held()
}
