package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dshills/recall-mcp/internal/tokenize"
	"github.com/dshills/recall-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// maxInParams bounds the number of ids bound in one IN (...) clause
const maxInParams = 500

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

var _ Storage = (*SQLiteStorage)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer; also keeps :memory: on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens (creating if needed) the database at dbPath and
// applies pending migrations
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a write transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) UpsertChunk(ctx context.Context, chunk *types.Chunk) error {
	return upsertChunkWithQuerier(ctx, t.tx, chunk)
}

func (t *sqliteTx) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return upsertEmbeddingWithQuerier(ctx, t.tx, embedding)
}

func (t *sqliteTx) DeleteChunk(ctx context.Context, chunkID string) error {
	return deleteChunkWithQuerier(ctx, t.tx, chunkID)
}

// Chunk operations

// chunkRow is the flat column layout of the chunks table
type chunkRow struct {
	id, kind, name, signature, docstring, dependencies string
	filePath                                           string
	startLine, endLine                                 int
	content, source                                    string
	activation                                         float64
	accessCount                                        int
	lastAccessed                                       int64
	commitCount                                        int
	lastModified                                       int64
	gitHash                                            string
}

const chunkColumns = `c.id, c.kind, c.name, c.signature, c.docstring, c.dependencies, c.file_path,
	c.start_line, c.end_line, c.content, c.source, c.activation, c.access_count,
	c.last_accessed, c.commit_count, c.last_modified, c.git_hash`

func (r *chunkRow) scanTargets() []interface{} {
	return []interface{}{
		&r.id, &r.kind, &r.name, &r.signature, &r.docstring, &r.dependencies, &r.filePath,
		&r.startLine, &r.endLine, &r.content, &r.source, &r.activation, &r.accessCount,
		&r.lastAccessed, &r.commitCount, &r.lastModified, &r.gitHash,
	}
}

func (r *chunkRow) toChunk() *types.Chunk {
	c := &types.Chunk{
		ID:         r.id,
		Activation: r.activation,
		Provenance: types.Provenance{
			CommitCount:  r.commitCount,
			LastModified: fromUnixNano(r.lastModified),
			GitHash:      r.gitHash,
		},
		Access: types.AccessStats{
			AccessCount:  r.accessCount,
			LastAccessed: fromUnixNano(r.lastAccessed),
		},
	}

	if types.ChunkKind(r.kind) == types.KindCode {
		var deps []string
		if r.dependencies != "" {
			deps = strings.Split(r.dependencies, "\n")
		}
		c.Body = types.CodeBody{
			Name:         r.name,
			Signature:    r.signature,
			Docstring:    r.docstring,
			Dependencies: deps,
			FilePath:     r.filePath,
			StartLine:    r.startLine,
			EndLine:      r.endLine,
		}
	} else {
		c.Body = types.KnowledgeBody{Content: r.content, Source: r.source}
	}

	return c
}

// indexText is what chunks_fts indexes: the extracted search text, tokenized
// so identifiers match on their camelCase and snake_case parts
func indexText(c *types.Chunk) string {
	return strings.Join(tokenize.Tokens(c.SearchText()), " ")
}

func upsertChunkWithQuerier(ctx context.Context, q querier, chunk *types.Chunk) error {
	if err := chunk.Validate(); err != nil {
		return fmt.Errorf("invalid chunk: %w", err)
	}

	var name, signature, docstring, deps, filePath, content, source string
	var startLine, endLine int
	switch b := chunk.Body.(type) {
	case types.CodeBody:
		name, signature, docstring = b.Name, b.Signature, b.Docstring
		deps = strings.Join(b.Dependencies, "\n")
		filePath, startLine, endLine = b.FilePath, b.StartLine, b.EndLine
	case types.KnowledgeBody:
		content, source = b.Content, b.Source
	}

	query := `
		INSERT INTO chunks (id, kind, name, signature, docstring, dependencies, file_path,
			start_line, end_line, content, source, search_text, activation,
			access_count, last_accessed, commit_count, last_modified, git_hash,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			signature = excluded.signature,
			docstring = excluded.docstring,
			dependencies = excluded.dependencies,
			file_path = excluded.file_path,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			content = excluded.content,
			source = excluded.source,
			search_text = excluded.search_text,
			activation = excluded.activation,
			commit_count = excluded.commit_count,
			last_modified = excluded.last_modified,
			git_hash = excluded.git_hash,
			updated_at = excluded.updated_at
	`
	now := time.Now().UnixNano()
	_, err := q.ExecContext(ctx, query,
		chunk.ID, string(chunk.Kind()), name, signature, docstring, deps, filePath,
		startLine, endLine, content, source, indexText(chunk), chunk.Activation,
		chunk.Access.AccessCount, toUnixNano(chunk.Access.LastAccessed),
		chunk.Provenance.CommitCount, toUnixNano(chunk.Provenance.LastModified), chunk.Provenance.GitHash,
		now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert chunk %s: %w", chunk.ID, err)
	}
	return nil
}

// UpsertChunk inserts or replaces a chunk. Access statistics are only taken
// from the chunk on first insert; after that they are owned by RecordAccess.
func (s *SQLiteStorage) UpsertChunk(ctx context.Context, chunk *types.Chunk) error {
	return upsertChunkWithQuerier(ctx, s.db, chunk)
}

// GetChunk returns a chunk with its embedding attached when one is stored
func (s *SQLiteStorage) GetChunk(ctx context.Context, chunkID string) (*types.Chunk, error) {
	query := `SELECT ` + chunkColumns + `, e.vector
		FROM chunks c LEFT JOIN embeddings e ON e.chunk_id = c.id
		WHERE c.id = ?`

	var row chunkRow
	var blob []byte
	err := s.db.QueryRowContext(ctx, query, chunkID).Scan(append(row.scanTargets(), &blob)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk %s: %w", chunkID, err)
	}

	c := row.toChunk()
	if len(blob) > 0 {
		c.Embedding = deserializeVector(blob)
	}
	return c, nil
}

func deleteChunkWithQuerier(ctx context.Context, q querier, chunkID string) error {
	result, err := q.ExecContext(ctx, "DELETE FROM chunks WHERE id = ?", chunkID)
	if err != nil {
		return fmt.Errorf("failed to delete chunk %s: %w", chunkID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChunk deletes a chunk and, by cascade, its embedding
func (s *SQLiteStorage) DeleteChunk(ctx context.Context, chunkID string) error {
	return deleteChunkWithQuerier(ctx, s.db, chunkID)
}

// UpdateActivation sets the activation value computed by the decay subsystem
func (s *SQLiteStorage) UpdateActivation(ctx context.Context, chunkID string, activation float64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE chunks SET activation = ?, updated_at = ? WHERE id = ?",
		activation, time.Now().UnixNano(), chunkID)
	if err != nil {
		return fmt.Errorf("failed to update activation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordAccess increments the access count of every listed chunk and sets
// its last access time. Unknown ids are ignored.
func (s *SQLiteStorage) RecordAccess(ctx context.Context, chunkIDs []string, at time.Time) error {
	for _, batch := range batches(chunkIDs, maxInParams) {
		args := make([]interface{}, 0, len(batch)+1)
		args = append(args, toUnixNano(at))
		for _, id := range batch {
			args = append(args, id)
		}

		query := `UPDATE chunks SET access_count = access_count + 1, last_accessed = ?
			WHERE id IN (` + placeholders(len(batch)) + `)`
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to record access: %w", err)
		}
	}
	return nil
}

// Embedding operations

func upsertEmbeddingWithQuerier(ctx context.Context, q querier, embedding *Embedding) error {
	if len(embedding.Vector) == 0 {
		return fmt.Errorf("embedding for chunk %s is empty", embedding.ChunkID)
	}

	dim := embedding.Dimension
	if dim == 0 {
		dim = len(embedding.Vector)
	}

	query := `
		INSERT INTO embeddings (chunk_id, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model,
			created_at = excluded.created_at
	`
	_, err := q.ExecContext(ctx, query,
		embedding.ChunkID, serializeVector(embedding.Vector), dim,
		embedding.Provider, embedding.Model, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert embedding for chunk %s: %w", embedding.ChunkID, err)
	}
	return nil
}

// UpsertEmbedding stores the vector of an existing chunk
func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return upsertEmbeddingWithQuerier(ctx, s.db, embedding)
}

// FetchEmbeddings loads stored vectors for chunkIDs
func (s *SQLiteStorage) FetchEmbeddings(ctx context.Context, chunkIDs []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(chunkIDs))

	for _, batch := range batches(chunkIDs, maxInParams) {
		query := `SELECT chunk_id, vector FROM embeddings WHERE chunk_id IN (` + placeholders(len(batch)) + `)`
		rows, err := s.db.QueryContext(ctx, query, stringArgs(batch)...)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch embeddings: %w", err)
		}

		for rows.Next() {
			var id string
			var blob []byte
			if err := rows.Scan(&id, &blob); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan embedding: %w", err)
			}
			out[id] = deserializeVector(blob)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// Access statistics

// AccessStats returns the usage record of one chunk
func (s *SQLiteStorage) AccessStats(ctx context.Context, chunkID string) (types.AccessStats, error) {
	var count int
	var last int64
	err := s.db.QueryRowContext(ctx,
		"SELECT access_count, last_accessed FROM chunks WHERE id = ?", chunkID).Scan(&count, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return types.AccessStats{}, ErrNotFound
	}
	if err != nil {
		return types.AccessStats{}, fmt.Errorf("failed to get access stats: %w", err)
	}
	return types.AccessStats{AccessCount: count, LastAccessed: fromUnixNano(last)}, nil
}

// BatchAccessStats returns usage records for chunkIDs; unknown ids are absent
func (s *SQLiteStorage) BatchAccessStats(ctx context.Context, chunkIDs []string) (map[string]types.AccessStats, error) {
	out := make(map[string]types.AccessStats, len(chunkIDs))

	for _, batch := range batches(chunkIDs, maxInParams) {
		query := `SELECT id, access_count, last_accessed FROM chunks WHERE id IN (` + placeholders(len(batch)) + `)`
		rows, err := s.db.QueryContext(ctx, query, stringArgs(batch)...)
		if err != nil {
			return nil, fmt.Errorf("failed to get access stats: %w", err)
		}

		for rows.Next() {
			var id string
			var count int
			var last int64
			if err := rows.Scan(&id, &count, &last); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan access stats: %w", err)
			}
			out[id] = types.AccessStats{AccessCount: count, LastAccessed: fromUnixNano(last)}
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// Search operations

// KeywordSearch runs an FTS5 query. KeywordRank is the raw bm25() value,
// negative with lower meaning more relevant. A query with no searchable
// terms returns no chunks.
func (s *SQLiteStorage) KeywordSearch(ctx context.Context, query string, limit int, kind types.ChunkKind, includeEmbeddings bool) ([]*types.Chunk, error) {
	match := buildMatchQuery(query)
	if match == "" || limit <= 0 {
		return []*types.Chunk{}, nil
	}

	sqlQuery := `SELECT ` + chunkColumns + `, bm25(chunks_fts) AS kw_rank`
	if includeEmbeddings {
		sqlQuery += `, e.vector`
	}
	sqlQuery += ` FROM chunks_fts JOIN chunks c ON c.id = chunks_fts.chunk_id`
	if includeEmbeddings {
		sqlQuery += ` LEFT JOIN embeddings e ON e.chunk_id = c.id`
	}
	sqlQuery += ` WHERE chunks_fts MATCH ?`
	args := []interface{}{match}

	if kind != "" {
		sqlQuery += ` AND c.kind = ?`
		args = append(args, string(kind))
	}
	sqlQuery += ` ORDER BY kw_rank, c.id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute keyword search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]*types.Chunk, 0, limit)
	for rows.Next() {
		var row chunkRow
		var rank float64
		var blob []byte
		targets := append(row.scanTargets(), &rank)
		if includeEmbeddings {
			targets = append(targets, &blob)
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("failed to scan keyword result: %w", err)
		}

		c := row.toChunk()
		r := rank
		c.KeywordRank = &r
		if len(blob) > 0 {
			c.Embedding = deserializeVector(blob)
		}
		chunks = append(chunks, c)
	}

	return chunks, rows.Err()
}

// ActivationSearch returns chunks with activation >= minActivation, highest first
func (s *SQLiteStorage) ActivationSearch(ctx context.Context, minActivation float64, limit int, kind types.ChunkKind, includeEmbeddings bool) ([]*types.Chunk, error) {
	if limit <= 0 {
		return []*types.Chunk{}, nil
	}

	sqlQuery := `SELECT ` + chunkColumns
	if includeEmbeddings {
		sqlQuery += `, e.vector`
	}
	sqlQuery += ` FROM chunks c`
	if includeEmbeddings {
		sqlQuery += ` LEFT JOIN embeddings e ON e.chunk_id = c.id`
	}
	sqlQuery += ` WHERE c.activation >= ?`
	args := []interface{}{minActivation}

	if kind != "" {
		sqlQuery += ` AND c.kind = ?`
		args = append(args, string(kind))
	}
	sqlQuery += ` ORDER BY c.activation DESC, c.id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute activation search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	chunks := make([]*types.Chunk, 0, limit)
	for rows.Next() {
		var row chunkRow
		var blob []byte
		targets := row.scanTargets()
		if includeEmbeddings {
			targets = append(targets, &blob)
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("failed to scan activation result: %w", err)
		}

		c := row.toChunk()
		if len(blob) > 0 {
			c.Embedding = deserializeVector(blob)
		}
		chunks = append(chunks, c)
	}

	return chunks, rows.Err()
}

// Status operations

// GetStatus returns store statistics and health
func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{BuildMode: BuildMode}
	var lastUpdated int64

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN kind = 'code' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'knowledge' THEN 1 ELSE 0 END), 0),
			COALESCE(MAX(updated_at), 0)
		FROM chunks
	`).Scan(&status.ChunksCount, &status.CodeChunks, &status.KnowledgeChunks, &lastUpdated)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", err)
	}
	status.Health.DatabaseAccessible = true
	status.LastUpdatedAt = fromUnixNano(lastUpdated)

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&status.EmbeddingsCount); err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}
	status.Health.EmbeddingsAvailable = status.EmbeddingsCount > 0

	var ftsRows int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks_fts").Scan(&ftsRows); err == nil {
		status.Health.FTSIndexBuilt = ftsRows == status.ChunksCount
	}

	if v, err := SchemaVersion(ctx, s.db); err == nil {
		status.SchemaVersion = v.String()
	}

	if s.dbPath != "" && s.dbPath != ":memory:" {
		if info, err := os.Stat(s.dbPath); err == nil {
			status.IndexSizeMB = float64(info.Size()) / (1024 * 1024)
		}
	}

	return status, nil
}

// helpers

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func stringArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func batches(ids []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
