// Package mcp implements the Model Context Protocol (MCP) server for recall.
//
// The server exposes retrieval over a chunk store to AI assistants:
//   - retrieve: rank stored chunks against a query
//   - ingest_chunks: store code or knowledge chunks with their embeddings
//   - get_status: chunk counts and index health
//   - cache_stats: retriever cache, query cache and degraded-retrieval counters
//   - clear_cache: empty the query cache and optionally drop retrievers
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries the protocol; logs go to stderr.
//
// # Tool: retrieve
//
//	Request:
//	{
//	  "name": "retrieve",
//	  "arguments": {
//	    "query": "load yaml config",
//	    "top_k": 5,
//	    "kind": "code",
//	    "diverse": true
//	  }
//	}
//
//	Response:
//	{
//	  "query": "load yaml config",
//	  "results": [
//	    {
//	      "chunk_id": "config-load",
//	      "kind": "code",
//	      "content": "func Load(path string) (Settings, error)",
//	      "hybrid_score": 0.82,
//	      "bm25_score": 1,
//	      "activation_score": 0.4,
//	      "semantic_score": 0.9,
//	      "file_path": "internal/config/file.go",
//	      "access_count": 3
//	    }
//	  ],
//	  "total": 1,
//	  "duration_ms": 12
//	}
//
// Every returned chunk has its access recorded in the store.
//
// Optional bm25_weight, activation_weight and semantic_weight arguments
// override the configured weights for one call. Each distinct configuration
// gets its own cached retriever.
//
// # Tool: ingest_chunks
//
//	Request:
//	{
//	  "name": "ingest_chunks",
//	  "arguments": {
//	    "chunks": [
//	      {"id": "readme-1", "kind": "knowledge", "content": "...", "source": "README.md"},
//	      {"id": "config-load", "kind": "code", "name": "Load", "file_path": "internal/config/file.go"}
//	    ]
//	  }
//	}
//
// Chunks are matched by id; re-ingesting replaces content but keeps access
// statistics.
//
// # Error Handling
//
// Failures are returned as MCPError values:
//   - -32602: Invalid parameters
//   - -32603: Internal error
//   - -32002: Ingest already in progress
//   - -32004: Empty query
//   - -32005: Embedding failed with fallback disabled
//   - -32006: Candidate search failed
package mcp
