package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/recall-mcp/internal/config"
	"github.com/dshills/recall-mcp/internal/embedcache"
	"github.com/dshills/recall-mcp/internal/embedder"
	"github.com/dshills/recall-mcp/internal/indexer"
	"github.com/dshills/recall-mcp/internal/log"
	"github.com/dshills/recall-mcp/internal/retriever"
	"github.com/dshills/recall-mcp/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "recall-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Options wires the server's dependencies
type Options struct {
	DBPath    string          // Data source ID for the instance cache
	Storage   storage.Storage // Required
	Embedder  embedder.Embedder
	Retrieval config.RetrievalConfig

	InstanceCacheCapacity int
	InstanceCacheTTL      time.Duration
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp        *server.MCPServer
	storage    storage.Storage
	dbPath     string
	indexer    *indexer.Indexer
	retrievers *retriever.InstanceCache
	queryCache *embedcache.Cache
	retrieval  config.RetrievalConfig

	closeOnce sync.Once
	closeErr  error
}

// NewServer creates a new MCP server instance. The server owns opts.Storage
// and closes it in Close.
func NewServer(opts Options) (*Server, error) {
	if opts.Storage == nil {
		return nil, errors.New("storage is required")
	}

	cfg, err := config.New(opts.Retrieval)
	if err != nil {
		return nil, fmt.Errorf("invalid retrieval config: %w", err)
	}

	queryCache, err := embedcache.Shared(cfg.QueryCacheSize, cfg.QueryCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	// A nil Embedder must stay a nil interface so retrievers see no backend
	var queries retriever.QueryEmbedder
	if opts.Embedder != nil {
		queries = embedder.QueryAdapter{Embedder: opts.Embedder}
	}

	store := opts.Storage
	factory := func(dataSourceID string, cfg config.RetrievalConfig) (*retriever.HybridRetriever, error) {
		log.Debugf("creating retriever for %s (config %s)", dataSourceID, cfg.Fingerprint())
		return retriever.New(store, queries, queryCache, cfg)
	}

	capacity := opts.InstanceCacheCapacity
	if capacity < 1 {
		capacity = 1
	}
	retrievers, err := retriever.NewInstanceCache(capacity, opts.InstanceCacheTTL, factory)
	if err != nil {
		return nil, fmt.Errorf("failed to create retriever cache: %w", err)
	}

	s := &Server{
		mcp:        server.NewMCPServer(ServerName, ServerVersion),
		storage:    store,
		dbPath:     opts.DBPath,
		indexer:    indexer.New(store, opts.Embedder),
		retrievers: retrievers,
		queryCache: queryCache,
		retrieval:  cfg,
	}

	s.registerTools()
	return s, nil
}

// Serve runs the MCP server on stdio until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return s.serveIO(ctx, os.Stdin, os.Stdout)
}

func (s *Server) serveIO(ctx context.Context, in io.Reader, out io.Writer) error {
	err := server.NewStdioServer(s.mcp).Listen(ctx, in, out)
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// Close releases the storage. It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.storage.Close()
	})
	return s.closeErr
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(retrieveTool(), s.handleRetrieve)
	s.mcp.AddTool(ingestChunksTool(), s.handleIngestChunks)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(cacheStatsTool(), s.handleCacheStats)
	s.mcp.AddTool(clearCacheTool(), s.handleClearCache)
}
