package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dshills/recall-mcp/internal/config"
	"github.com/dshills/recall-mcp/internal/embedder"
	"github.com/dshills/recall-mcp/internal/log"
	"github.com/dshills/recall-mcp/internal/mcp"
	"github.com/dshills/recall-mcp/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: $RECALL_CONFIG or ~/.recall/config.yaml)")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before reading the environment")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Recall MCP Server\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		fmt.Printf("Schema Version: %s\n", storage.CurrentSchemaVersion)
		os.Exit(0)
	}

	if err := run(*configPath, *envFile); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	// Variables already set in the environment win over the file
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.SetLevel(settings.Log.Level)

	retrieval, err := settings.RetrievalConfig()
	if err != nil {
		return err
	}

	log.Infof("Recall MCP Server %s starting (build mode %s, driver %s)", version, storage.BuildMode, storage.DriverName)

	dbPath := settings.Storage.DBPath
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	emb, err := newEmbedder(settings)
	if err != nil {
		_ = store.Close()
		return err
	}
	if emb != nil {
		defer func() { _ = emb.Close() }()
		log.Infof("embedding provider: %s (%s, %d dims)", emb.Provider(), emb.Model(), emb.Dimension())
	} else {
		log.Warnf("no embedding provider configured, retrieval will rank by keyword and activation only")
	}

	server, err := mcp.NewServer(mcp.Options{
		DBPath:                dbPath,
		Storage:               store,
		Embedder:              emb,
		Retrieval:             retrieval,
		InstanceCacheCapacity: settings.InstanceCache.Capacity,
		InstanceCacheTTL:      settings.InstanceCache.TTL,
	})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			log.Warnf("failed to close storage: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("MCP server ready, listening on stdio (db %s)", dbPath)
	if err := server.Serve(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	if ctx.Err() != nil {
		log.Infof("received shutdown signal, stopping")
	}

	log.Infof("server stopped")
	return nil
}

// newEmbedder returns nil when embeddings are disabled. With no provider
// configured the environment decides.
func newEmbedder(settings config.Settings) (embedder.Embedder, error) {
	var (
		emb embedder.Embedder
		err error
	)
	if settings.Embedder.Provider == "" {
		emb, err = embedder.NewFromEnv()
	} else {
		emb, err = embedder.New(embedder.Config{
			Provider:  settings.Embedder.Provider,
			APIKey:    settings.Embedder.APIKey,
			Model:     settings.Embedder.Model,
			BaseURL:   settings.Embedder.BaseURL,
			CacheSize: 10000,
		})
	}
	if errors.Is(err, embedder.ErrNoProviderEnabled) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return emb, nil
}
