// Package storage provides SQLite-based persistence for retrievable chunks.
//
// The store keeps:
//   - Chunks (code symbols and knowledge passages) with activation and access statistics
//   - Vector embeddings for chunks
//   - An FTS5 full-text index over each chunk's tokenized search text
//
// # Database Schema
//
// Tables:
//   - chunks: one row per chunk; kind-specific columns are empty for the other kind
//   - chunks_fts: FTS5 index kept in sync by triggers on chunks.search_text
//   - embeddings: little-endian float32 blobs, deleted with their chunk
//   - schema_version: applied migrations
//
// # Retrieval Capabilities
//
// A retriever only requires Store. The optional capabilities are discovered
// by type assertion:
//
//	if ks, ok := store.(storage.KeywordSearcher); ok {
//	    chunks, err := ks.KeywordSearch(ctx, "validate token", 50, "", false)
//	}
//
// KeywordSearch quotes every query term and ORs them together, so user input
// never reaches FTS5 as syntax. KeywordRank carries the raw bm25() value.
//
// # Transactions
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	if err := tx.UpsertChunk(ctx, chunk); err != nil {
//	    return err
//	}
//	if err := tx.UpsertEmbedding(ctx, &storage.Embedding{ChunkID: chunk.ID, Vector: vec}); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Build Tags
//
// Pure Go build (default):
//
//   - Uses modernc.org/sqlite
//
//   - No C compiler needed
//
//     CGO_ENABLED=0 go build ./...
//
// CGO build (cgo_sqlite tag):
//
//   - Uses github.com/mattn/go-sqlite3
//
//   - Needs sqlite_fts5 for the full-text index
//
//     CGO_ENABLED=1 go build -tags "cgo_sqlite,sqlite_fts5" ./...
package storage
