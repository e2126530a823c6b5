package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables recognised by Load
const (
	EnvConfigPath        = "RECALL_CONFIG"
	EnvDBPath            = "RECALL_DB_PATH"
	EnvEmbeddingProvider = "RECALL_EMBEDDING_PROVIDER"
	EnvLogLevel          = "RECALL_LOG_LEVEL"
	EnvOpenAIAPIKey      = "OPENAI_API_KEY"
	EnvJinaAPIKey        = "JINA_API_KEY"
)

// DefaultDBPath is the database location used when nothing else is configured
const DefaultDBPath = "~/.recall/recall.db"

// Settings is the process configuration read from the YAML file and environment
type Settings struct {
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`

	Embedder struct {
		Provider string `yaml:"provider"` // openai, jina, local or none
		APIKey   string `yaml:"api_key"`
		Model    string `yaml:"model"`
		BaseURL  string `yaml:"base_url"`
	} `yaml:"embedder"`

	Retrieval RetrievalSection `yaml:"retrieval"`

	InstanceCache struct {
		Capacity int           `yaml:"capacity"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"instance_cache"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// RetrievalSection mirrors RetrievalConfig with optional fields.
// Unset fields keep their default values.
type RetrievalSection struct {
	BM25Weight           *float64       `yaml:"bm25_weight"`
	ActivationWeight     *float64       `yaml:"activation_weight"`
	SemanticWeight       *float64       `yaml:"semantic_weight"`
	ActivationTopK       *int           `yaml:"activation_top_k"`
	Stage1TopK           *int           `yaml:"stage1_top_k"`
	FallbackToActivation *bool          `yaml:"fallback_to_activation"`
	UseStagedRetrieval   *bool          `yaml:"use_staged_retrieval"`
	QueryCacheSize       *int           `yaml:"query_cache_size"`
	QueryCacheTTL        *time.Duration `yaml:"query_cache_ttl"`
	MMRLambda            *float64       `yaml:"mmr_lambda"`
}

// DefaultConfigPath returns ~/.recall/config.yaml
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".recall", "config.yaml")
}

// DefaultSettings returns settings with every default filled in
func DefaultSettings() Settings {
	var s Settings
	s.Storage.DBPath = DefaultDBPath
	s.InstanceCache.Capacity = 16
	s.InstanceCache.TTL = time.Hour
	s.Log.Level = "info"
	return s
}

// Load reads settings from path (or RECALL_CONFIG, or the default path) and
// applies environment overrides. A missing file is not an error.
func Load(path string) (Settings, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultConfigPath()
	}

	s := DefaultSettings()

	data, err := os.ReadFile(expandHome(path))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return s, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&s)

	s.Storage.DBPath = expandHome(s.Storage.DBPath)
	return s, nil
}

func applyEnv(s *Settings) {
	if v := os.Getenv(EnvDBPath); v != "" {
		s.Storage.DBPath = v
	}
	if v := os.Getenv(EnvEmbeddingProvider); v != "" {
		s.Embedder.Provider = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		s.Log.Level = strings.ToLower(v)
	}

	if s.Embedder.APIKey != "" {
		return
	}
	switch s.Embedder.Provider {
	case "openai":
		s.Embedder.APIKey = os.Getenv(EnvOpenAIAPIKey)
	case "jina":
		s.Embedder.APIKey = os.Getenv(EnvJinaAPIKey)
	}
}

// RetrievalConfig merges the retrieval section over Default and validates it
func (s Settings) RetrievalConfig() (RetrievalConfig, error) {
	cfg := Default()
	r := s.Retrieval

	if r.BM25Weight != nil {
		cfg.BM25Weight = *r.BM25Weight
	}
	if r.ActivationWeight != nil {
		cfg.ActivationWeight = *r.ActivationWeight
	}
	if r.SemanticWeight != nil {
		cfg.SemanticWeight = *r.SemanticWeight
	}
	if r.ActivationTopK != nil {
		cfg.ActivationTopK = *r.ActivationTopK
	}
	if r.Stage1TopK != nil {
		cfg.Stage1TopK = *r.Stage1TopK
	}
	if r.FallbackToActivation != nil {
		cfg.FallbackToActivation = *r.FallbackToActivation
	}
	if r.UseStagedRetrieval != nil {
		cfg.UseStagedRetrieval = *r.UseStagedRetrieval
	}
	if r.QueryCacheSize != nil {
		cfg.QueryCacheSize = *r.QueryCacheSize
	}
	if r.QueryCacheTTL != nil {
		cfg.QueryCacheTTL = *r.QueryCacheTTL
	}
	if r.MMRLambda != nil {
		cfg.MMRLambda = *r.MMRLambda
	}

	return New(cfg)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
