package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/recall-mcp/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func codeChunk(id, name string, activation float64) *types.Chunk {
	return &types.Chunk{
		ID:         id,
		Activation: activation,
		Body: types.CodeBody{
			Name:         name,
			Signature:    "func " + name + "(ctx context.Context) error",
			Docstring:    name + " does work",
			Dependencies: []string{"context.Context"},
			FilePath:     "internal/auth/" + id + ".go",
			StartLine:    10,
			EndLine:      20,
		},
		Provenance: types.Provenance{CommitCount: 3, GitHash: "abc123"},
	}
}

func knowledgeChunk(id, content string, activation float64) *types.Chunk {
	return &types.Chunk{
		ID:         id,
		Activation: activation,
		Body:       types.KnowledgeBody{Content: content, Source: "notes.md"},
	}
}

func seed(t *testing.T, s *SQLiteStorage, chunks ...*types.Chunk) {
	ctx := context.Background()
	for _, c := range chunks {
		require.NoError(t, s.UpsertChunk(ctx, c))
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)

	v, err := SchemaVersion(context.Background(), storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestNewSQLiteStorageReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.db")

	s1, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	seed(t, s1, knowledgeChunk("k1", "persisted passage", 0.5))
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer s2.Close()

	c, err := s2.GetChunk(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, "persisted passage", c.DisplayContent())
}

func TestRollbackMigration(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.db))
	v, err := SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", v.String())

	require.NoError(t, RollbackMigration(ctx, storage.db))
	v, err = SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", v.String())

	assert.Error(t, RollbackMigration(ctx, storage.db))

	require.NoError(t, ApplyMigrations(ctx, storage.db))
	v, err = SchemaVersion(ctx, storage.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestUpsertAndGetChunk(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	code := codeChunk("c1", "ValidateToken", 0.7)
	know := knowledgeChunk("k1", "Tokens expire after one hour.", 0.2)
	seed(t, storage, code, know)

	got, err := storage.GetChunk(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, types.KindCode, got.Kind())
	assert.Equal(t, code.Body, got.Body)
	assert.InDelta(t, 0.7, got.Activation, 1e-9)
	assert.Equal(t, 3, got.Provenance.CommitCount)
	assert.Equal(t, "abc123", got.Provenance.GitHash)
	assert.True(t, got.Provenance.LastModified.IsZero())
	assert.Nil(t, got.Embedding)
	assert.Nil(t, got.KeywordRank)

	got, err = storage.GetChunk(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, types.KindKnowledge, got.Kind())
	assert.Equal(t, know.Body, got.Body)

	_, err = storage.GetChunk(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertChunkReplaces(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	seed(t, storage, knowledgeChunk("k1", "original passage about caching", 0.1))
	require.NoError(t, storage.RecordAccess(ctx, []string{"k1"}, time.Unix(100, 0)))

	seed(t, storage, knowledgeChunk("k1", "rewritten passage about queues", 0.9))

	got, err := storage.GetChunk(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "rewritten passage about queues", got.DisplayContent())
	assert.InDelta(t, 0.9, got.Activation, 1e-9)
	assert.Equal(t, 1, got.Access.AccessCount, "access stats survive an upsert")

	// The FTS index follows the new text
	hits, err := storage.KeywordSearch(ctx, "caching", 10, "", false)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = storage.KeywordSearch(ctx, "queues", 10, "", false)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "k1", hits[0].ID)
}

func TestUpsertChunkRejectsInvalid(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	assert.Error(t, storage.UpsertChunk(ctx, &types.Chunk{ID: "x"}))
	assert.Error(t, storage.UpsertChunk(ctx, knowledgeChunk("", "content", 0)))
	assert.Error(t, storage.UpsertChunk(ctx, knowledgeChunk("k", "   ", 0)))

	err := storage.UpsertChunk(ctx, &types.Chunk{ID: "p", Body: &types.CodeBody{Name: "Handler"}})
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = storage.GetChunk(ctx, "p")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteChunkCascades(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	seed(t, storage, knowledgeChunk("k1", "passage about deletion", 0.5))
	require.NoError(t, storage.UpsertEmbedding(ctx, &Embedding{ChunkID: "k1", Vector: []float32{1, 0}, Provider: "local", Model: "m"}))

	require.NoError(t, storage.DeleteChunk(ctx, "k1"))
	assert.ErrorIs(t, storage.DeleteChunk(ctx, "k1"), ErrNotFound)

	embs, err := storage.FetchEmbeddings(ctx, []string{"k1"})
	require.NoError(t, err)
	assert.Empty(t, embs)

	hits, err := storage.KeywordSearch(ctx, "deletion", 10, "", false)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestUpsertEmbedding(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	seed(t, storage, knowledgeChunk("k1", "passage", 0.5))

	require.NoError(t, storage.UpsertEmbedding(ctx, &Embedding{ChunkID: "k1", Vector: []float32{0.1, 0.2, 0.3}, Provider: "local", Model: "m"}))
	got, err := storage.GetChunk(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.Embedding)

	// Replace
	require.NoError(t, storage.UpsertEmbedding(ctx, &Embedding{ChunkID: "k1", Vector: []float32{1, 1}, Provider: "local", Model: "m"}))
	got, err = storage.GetChunk(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, got.Embedding)

	// Empty vector and unknown chunk are rejected
	assert.Error(t, storage.UpsertEmbedding(ctx, &Embedding{ChunkID: "k1"}))
	assert.Error(t, storage.UpsertEmbedding(ctx, &Embedding{ChunkID: "nope", Vector: []float32{1}, Provider: "p", Model: "m"}))
}

func TestFetchEmbeddings(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < maxInParams+20; i++ {
		id := fmt.Sprintf("k%04d", i)
		ids = append(ids, id)
		seed(t, storage, knowledgeChunk(id, "passage "+id, 0))
		if i%2 == 0 {
			require.NoError(t, storage.UpsertEmbedding(ctx, &Embedding{ChunkID: id, Vector: []float32{float32(i)}, Provider: "p", Model: "m"}))
		}
	}

	embs, err := storage.FetchEmbeddings(ctx, append(ids, "unknown"))
	require.NoError(t, err)
	assert.Len(t, embs, (maxInParams+20)/2)
	assert.Equal(t, []float32{float32(maxInParams)}, embs[fmt.Sprintf("k%04d", maxInParams)])
	assert.NotContains(t, embs, "k0001")

	embs, err = storage.FetchEmbeddings(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, embs)
}

func TestKeywordSearch(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	seed(t, storage,
		codeChunk("c1", "ValidateToken", 0.5),
		codeChunk("c2", "parse_config", 0.5),
		knowledgeChunk("k1", "Always validate the token before trusting claims.", 0.5),
		knowledgeChunk("k2", "Unrelated passage about gardening.", 0.5),
	)

	t.Run("identifier parts match", func(t *testing.T) {
		hits, err := storage.KeywordSearch(ctx, "validate token", 10, "", false)
		require.NoError(t, err)
		ids := chunkIDs(hits)
		assert.ElementsMatch(t, []string{"c1", "k1"}, ids)
		for _, h := range hits {
			require.NotNil(t, h.KeywordRank)
			assert.Less(t, *h.KeywordRank, 0.0)
		}
		assert.LessOrEqual(t, *hits[0].KeywordRank, *hits[1].KeywordRank)
	})

	t.Run("snake case query", func(t *testing.T) {
		hits, err := storage.KeywordSearch(ctx, "ParseConfig", 10, "", false)
		require.NoError(t, err)
		assert.Equal(t, []string{"c2"}, chunkIDs(hits))
	})

	t.Run("kind filter", func(t *testing.T) {
		hits, err := storage.KeywordSearch(ctx, "validate token", 10, types.KindKnowledge, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"k1"}, chunkIDs(hits))
	})

	t.Run("limit", func(t *testing.T) {
		hits, err := storage.KeywordSearch(ctx, "validate token", 1, "", false)
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})

	t.Run("fts syntax is literal", func(t *testing.T) {
		hits, err := storage.KeywordSearch(ctx, `token" OR NEAR(* "`, 10, "", false)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"c1", "k1"}, chunkIDs(hits))
	})

	t.Run("no searchable terms", func(t *testing.T) {
		hits, err := storage.KeywordSearch(ctx, "!!! ?", 10, "", false)
		require.NoError(t, err)
		assert.NotNil(t, hits)
		assert.Empty(t, hits)
	})
}

func TestKeywordSearchEmbeddings(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	seed(t, storage,
		knowledgeChunk("k1", "token rotation", 0.5),
		knowledgeChunk("k2", "token revocation", 0.5),
	)
	require.NoError(t, storage.UpsertEmbedding(ctx, &Embedding{ChunkID: "k1", Vector: []float32{1, 2}, Provider: "p", Model: "m"}))

	hits, err := storage.KeywordSearch(ctx, "token", 10, "", true)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	byID := map[string]*types.Chunk{}
	for _, h := range hits {
		byID[h.ID] = h
	}
	assert.Equal(t, []float32{1, 2}, byID["k1"].Embedding)
	assert.Nil(t, byID["k2"].Embedding)

	hits, err = storage.KeywordSearch(ctx, "token", 10, "", false)
	require.NoError(t, err)
	for _, h := range hits {
		assert.Nil(t, h.Embedding)
	}
}

func TestActivationSearch(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	seed(t, storage,
		knowledgeChunk("k1", "low", 0.1),
		knowledgeChunk("k2", "high", 0.9),
		codeChunk("c1", "Mid", 0.5),
		knowledgeChunk("k3", "tie", 0.5),
	)
	require.NoError(t, storage.UpsertEmbedding(ctx, &Embedding{ChunkID: "k2", Vector: []float32{1}, Provider: "p", Model: "m"}))

	hits, err := storage.ActivationSearch(ctx, 0.2, 10, "", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"k2", "c1", "k3"}, chunkIDs(hits))
	for _, h := range hits {
		assert.Nil(t, h.KeywordRank)
		assert.Nil(t, h.Embedding)
	}

	hits, err = storage.ActivationSearch(ctx, 0, 2, "", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"k2", "c1"}, chunkIDs(hits))
	assert.Equal(t, []float32{1}, hits[0].Embedding)

	hits, err = storage.ActivationSearch(ctx, 0, 10, types.KindCode, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, chunkIDs(hits))

	hits, err = storage.ActivationSearch(ctx, 0, 0, "", false)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestAccessStats(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	seed(t, storage, knowledgeChunk("k1", "a", 0), knowledgeChunk("k2", "b", 0))

	stats, err := storage.AccessStats(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.AccessCount)
	assert.True(t, stats.LastAccessed.IsZero())

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, storage.RecordAccess(ctx, []string{"k1", "k2", "ghost"}, at))
	require.NoError(t, storage.RecordAccess(ctx, []string{"k1"}, at.Add(time.Minute)))

	stats, err = storage.AccessStats(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.AccessCount)
	assert.True(t, stats.LastAccessed.Equal(at.Add(time.Minute)))

	batch, err := storage.BatchAccessStats(ctx, []string{"k1", "k2", "ghost"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.Equal(t, 1, batch["k2"].AccessCount)
	assert.True(t, batch["k2"].LastAccessed.Equal(at))

	_, err = storage.AccessStats(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateActivation(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	seed(t, storage, knowledgeChunk("k1", "a", 0.1))
	require.NoError(t, storage.UpdateActivation(ctx, "k1", 0.8))

	got, err := storage.GetChunk(ctx, "k1")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, got.Activation, 1e-9)

	assert.ErrorIs(t, storage.UpdateActivation(ctx, "ghost", 0.5), ErrNotFound)
}

func TestTransaction(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.UpsertChunk(ctx, knowledgeChunk("t1", "committed", 0)))
		require.NoError(t, tx.UpsertEmbedding(ctx, &Embedding{ChunkID: "t1", Vector: []float32{1}, Provider: "p", Model: "m"}))
		require.NoError(t, tx.Commit())

		got, err := storage.GetChunk(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, []float32{1}, got.Embedding)
	})

	t.Run("rollback", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.UpsertChunk(ctx, knowledgeChunk("t2", "rolled back", 0)))
		require.NoError(t, tx.DeleteChunk(ctx, "t1"))
		require.NoError(t, tx.Rollback())

		_, err = storage.GetChunk(ctx, "t2")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = storage.GetChunk(ctx, "t1")
		assert.NoError(t, err)
	})
}

func TestGetStatus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.ChunksCount)
	assert.True(t, status.Health.DatabaseAccessible)
	assert.False(t, status.Health.EmbeddingsAvailable)
	assert.Equal(t, BuildMode, status.BuildMode)
	assert.Equal(t, CurrentSchemaVersion, status.SchemaVersion)
	assert.True(t, status.LastUpdatedAt.IsZero())

	seed(t, storage, codeChunk("c1", "Run", 0), knowledgeChunk("k1", "a", 0), knowledgeChunk("k2", "b", 0))
	require.NoError(t, storage.UpsertEmbedding(ctx, &Embedding{ChunkID: "k1", Vector: []float32{1}, Provider: "p", Model: "m"}))

	status, err = storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.ChunksCount)
	assert.Equal(t, 1, status.CodeChunks)
	assert.Equal(t, 2, status.KnowledgeChunks)
	assert.Equal(t, 1, status.EmbeddingsCount)
	assert.True(t, status.Health.EmbeddingsAvailable)
	assert.True(t, status.Health.FTSIndexBuilt)
	assert.False(t, status.LastUpdatedAt.IsZero())
}

func chunkIDs(chunks []*types.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}
