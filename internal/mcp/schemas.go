package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// weightProperties are the optional per-call retrieval config overrides.
// After overriding, the three weights must still sum to 1.
func weightProperties() map[string]interface{} {
	weight := func(desc string) map[string]interface{} {
		return map[string]interface{}{
			"type":        "number",
			"description": desc,
			"minimum":     0.0,
			"maximum":     1.0,
		}
	}
	return map[string]interface{}{
		"bm25_weight":       weight("Override the configured BM25 weight"),
		"activation_weight": weight("Override the configured activation weight"),
		"semantic_weight":   weight("Override the configured semantic weight"),
	}
}

// retrieveTool returns the tool definition for retrieve
func retrieveTool() mcp.Tool {
	props := map[string]interface{}{
		"query": map[string]interface{}{
			"type":        "string",
			"description": "Search query (natural language or keywords)",
		},
		"top_k": map[string]interface{}{
			"type":        "integer",
			"description": "Maximum number of results to return (1-100)",
			"default":     10,
			"minimum":     1,
			"maximum":     100,
		},
		"kind": map[string]interface{}{
			"type":        "string",
			"description": "Restrict results to one chunk kind",
			"enum":        []string{"code", "knowledge"},
		},
		"min_semantic_score": map[string]interface{}{
			"type":        "number",
			"description": "Drop results below this semantic score. Only applies when the BM25 weight is 0",
			"minimum":     0.0,
			"maximum":     1.0,
		},
		"diverse": map[string]interface{}{
			"type":        "boolean",
			"description": "Re-rank with maximal marginal relevance to reduce near-duplicates",
			"default":     false,
		},
		"mmr_lambda": map[string]interface{}{
			"type":        "number",
			"description": "Relevance/diversity trade-off for diverse results (1 = relevance only)",
			"minimum":     0.0,
			"maximum":     1.0,
		},
	}
	for k, v := range weightProperties() {
		props[k] = v
	}

	return mcp.Tool{
		Name:        "retrieve",
		Description: "Rank stored chunks against a query using keyword, activation and semantic signals",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
			Required:   []string{"query"},
		},
	}
}

// ingestChunksTool returns the tool definition for ingest_chunks
func ingestChunksTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ingest_chunks",
		Description: "Store code or knowledge chunks and compute their embeddings",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"chunks": map[string]interface{}{
					"type":        "array",
					"description": "Chunks to insert or replace, matched by id",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"id":            map[string]interface{}{"type": "string"},
							"kind":          map[string]interface{}{"type": "string", "enum": []string{"code", "knowledge"}},
							"name":          map[string]interface{}{"type": "string", "description": "Code symbol name"},
							"signature":     map[string]interface{}{"type": "string"},
							"docstring":     map[string]interface{}{"type": "string"},
							"dependencies":  map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
							"file_path":     map[string]interface{}{"type": "string"},
							"start_line":    map[string]interface{}{"type": "integer"},
							"end_line":      map[string]interface{}{"type": "integer"},
							"content":       map[string]interface{}{"type": "string", "description": "Knowledge passage text"},
							"source":        map[string]interface{}{"type": "string"},
							"activation":    map[string]interface{}{"type": "number"},
							"commit_count":  map[string]interface{}{"type": "integer"},
							"last_modified": map[string]interface{}{"type": "string", "description": "RFC 3339 timestamp"},
							"git_hash":      map[string]interface{}{"type": "string"},
						},
						"required": []string{"id", "kind"},
					},
				},
				"batch_size": map[string]interface{}{
					"type":        "integer",
					"description": "Chunks per embedding call (1-100, default 50)",
					"minimum":     1,
					"maximum":     100,
				},
				"skip_embeddings": map[string]interface{}{
					"type":        "boolean",
					"description": "Store chunks without computing embeddings",
					"default":     false,
				},
			},
			Required: []string{"chunks"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report stored chunk counts and index health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// cacheStatsTool returns the tool definition for cache_stats
func cacheStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cache_stats",
		Description: "Report retriever instance cache, query embedding cache and degraded-retrieval counters",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// clearCacheTool returns the tool definition for clear_cache
func clearCacheTool() mcp.Tool {
	return mcp.Tool{
		Name:        "clear_cache",
		Description: "Empty the query embedding cache and optionally drop cached retrievers",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"instances": map[string]interface{}{
					"type":        "boolean",
					"description": "Also drop cached retriever instances",
					"default":     true,
				},
			},
		},
	}
}
