package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/recall-mcp/internal/config"
	"github.com/dshills/recall-mcp/internal/embedder"
	"github.com/dshills/recall-mcp/internal/indexer"
	"github.com/dshills/recall-mcp/internal/log"
	"github.com/dshills/recall-mcp/internal/retriever"
	"github.com/dshills/recall-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams    = -32602 // Invalid method parameters
	ErrorCodeInternalError    = -32603 // Internal JSON-RPC error
	ErrorCodeIngestInProgress = -32002 // Another ingest is already running
	ErrorCodeEmptyQuery       = -32004 // Query parameter is empty
	ErrorCodeEmbeddingFailed  = -32005 // Embedding backend failed and fallback is disabled
	ErrorCodeStoreFailed      = -32006 // Candidate acquisition failed
)

const (
	defaultTopK = 10
	maxTopK     = 100
	maxErrors   = 5
)

// handleRetrieve handles the retrieve tool invocation
func (s *Server) handleRetrieve(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", defaultTopK)
	if topK < 1 || topK > maxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, "top_k must be between 1 and 100", map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	kind := types.ChunkKind(getStringDefault(args, "kind", ""))
	if kind != "" && !kind.Valid() {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid kind", map[string]interface{}{
			"param":   "kind",
			"value":   kind,
			"allowed": []string{string(types.KindCode), string(types.KindKnowledge)},
		})
	}

	cfg, err := s.requestConfig(args)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid retrieval config", map[string]interface{}{
			"error": err.Error(),
		})
	}

	r, err := s.retrievers.GetOrCreate(s.dbPath, cfg)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to create retriever", map[string]interface{}{
			"error": err.Error(),
		})
	}

	req := retriever.Request{
		Query:            query,
		TopK:             topK,
		KindFilter:       kind,
		Diverse:          getBoolDefault(args, "diverse", false),
		MinSemanticScore: getFloatPtr(args, "min_semantic_score"),
		MMRLambda:        getFloatPtr(args, "mmr_lambda"),
	}

	startTime := time.Now()
	results, err := r.Retrieve(ctx, req)
	if err != nil {
		return nil, retrievalError(err)
	}

	ids := make([]string, len(results))
	out := make([]resultOutput, len(results))
	for i, res := range results {
		ids[i] = res.ChunkID
		out[i] = toResultOutput(res)
	}

	if len(ids) > 0 {
		if err := s.storage.RecordAccess(ctx, ids, time.Now()); err != nil {
			log.Warnf("failed to record access for %d chunks: %v", len(ids), err)
		}
	}

	response := map[string]interface{}{
		"query":       query,
		"results":     out,
		"total":       len(out),
		"duration_ms": time.Since(startTime).Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// requestConfig applies per-call weight overrides to the server config
func (s *Server) requestConfig(args map[string]interface{}) (config.RetrievalConfig, error) {
	cfg := s.retrieval
	if v := getFloatPtr(args, "bm25_weight"); v != nil {
		cfg.BM25Weight = *v
	}
	if v := getFloatPtr(args, "activation_weight"); v != nil {
		cfg.ActivationWeight = *v
	}
	if v := getFloatPtr(args, "semantic_weight"); v != nil {
		cfg.SemanticWeight = *v
	}
	return config.New(cfg)
}

func retrievalError(err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, types.ErrInvalidArgument):
		return newMCPError(ErrorCodeInvalidParams, "invalid retrieval request", data)
	case errors.Is(err, types.ErrEmbedding):
		return newMCPError(ErrorCodeEmbeddingFailed, "query embedding failed", data)
	case errors.Is(err, types.ErrStore):
		return newMCPError(ErrorCodeStoreFailed, "candidate search failed", data)
	default:
		return newMCPError(ErrorCodeInternalError, "retrieval failed", data)
	}
}

// handleIngestChunks handles the ingest_chunks tool invocation
func (s *Server) handleIngestChunks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	raw, ok := args["chunks"]
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "chunks parameter is required", map[string]interface{}{
			"param":  "chunks",
			"reason": "missing",
		})
	}
	chunks, problems, err := decodeChunks(raw)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid chunks", map[string]interface{}{
			"param":  "chunks",
			"reason": err.Error(),
		})
	}

	// 0 leaves the choice to the indexer
	batchSize := getIntDefault(args, "batch_size", 0)
	if batchSize < 0 || batchSize > embedder.MaxBatchSize {
		msg := fmt.Sprintf("batch_size must be between 1 and %d, or omitted for the default of %d",
			embedder.MaxBatchSize, embedder.DefaultBatchSize)
		return nil, newMCPError(ErrorCodeInvalidParams, msg, map[string]interface{}{
			"param": "batch_size",
			"value": batchSize,
		})
	}

	stats, err := s.indexer.Ingest(ctx, chunks, &indexer.Config{
		BatchSize:      batchSize,
		SkipEmbeddings: getBoolDefault(args, "skip_embeddings", false),
	})
	if errors.Is(err, indexer.ErrIngestInProgress) {
		return nil, newMCPError(ErrorCodeIngestInProgress, "another ingest is already running", nil)
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "ingest failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"chunks_indexed":     stats.ChunksIndexed,
		"chunks_failed":      stats.ChunksFailed + len(problems),
		"embeddings_created": stats.EmbeddingsCreated,
		"embeddings_failed":  stats.EmbeddingsFailed,
		"duration_ms":        stats.Duration.Milliseconds(),
	}

	messages := append(problems, stats.ErrorMessages...)
	if len(messages) > maxErrors {
		response["errors"] = messages[:maxErrors]
		response["error_count"] = len(messages)
	} else if len(messages) > 0 {
		response["errors"] = messages
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.storage.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"data_source": s.dbPath,
		"statistics": map[string]interface{}{
			"chunks_count":     status.ChunksCount,
			"code_chunks":      status.CodeChunks,
			"knowledge_chunks": status.KnowledgeChunks,
			"embeddings_count": status.EmbeddingsCount,
			"index_size_mb":    fmt.Sprintf("%.2f", status.IndexSizeMB),
			"last_updated_at":  formatTime(status.LastUpdatedAt),
		},
		"schema_version":     status.SchemaVersion,
		"build_mode":         status.BuildMode,
		"ingest_in_progress": s.indexer.Busy(),
		"health": map[string]interface{}{
			"database_accessible":  status.Health.DatabaseAccessible,
			"embeddings_available": status.Health.EmbeddingsAvailable,
			"fts_index_built":      status.Health.FTSIndexBuilt,
		},
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleCacheStats handles the cache_stats tool invocation
func (s *Server) handleCacheStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	inst := s.retrievers.Stats()
	query := s.queryCache.Stats()

	var retrievers []map[string]interface{}
	s.retrievers.Range(func(dataSourceID string, r *retriever.HybridRetriever) {
		st := r.Stats()
		retrievers = append(retrievers, map[string]interface{}{
			"data_source":         dataSourceID,
			"config":              r.Config().Fingerprint(),
			"retrievals":          st.Retrievals,
			"fallback_retrievals": st.FallbackRetrievals,
			"stat_fallbacks":      st.StatFallbacks,
		})
	})
	if retrievers == nil {
		retrievers = []map[string]interface{}{}
	}

	response := map[string]interface{}{
		"instance_cache": map[string]interface{}{
			"hits":      inst.Hits,
			"misses":    inst.Misses,
			"evictions": inst.Evictions,
			"hit_rate":  inst.HitRate,
			"size":      inst.Size,
		},
		"query_cache": map[string]interface{}{
			"hits":      query.Hits,
			"misses":    query.Misses,
			"evictions": query.Evictions,
			"hit_rate":  query.HitRate(),
			"size":      query.Size,
			"capacity":  query.Capacity,
		},
		"retrievers": retrievers,
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleClearCache handles the clear_cache tool invocation
func (s *Server) handleClearCache(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	before := s.queryCache.Size()
	s.queryCache.Clear()

	response := map[string]interface{}{
		"query_embeddings_cleared": before,
	}

	if getBoolDefault(args, "instances", true) {
		response["retrievers_cleared"] = s.retrievers.Stats().Size
		s.retrievers.Clear()
	}

	log.Infof("caches cleared: %v", response)
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getFloatPtr extracts an optional number parameter
func getFloatPtr(args map[string]interface{}, key string) *float64 {
	switch val := args[key].(type) {
	case float64:
		return &val
	case int:
		f := float64(val)
		return &f
	}
	return nil
}
