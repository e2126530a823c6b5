package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/recall-mcp/pkg/types"
)

// WeightSumTolerance is the allowed deviation of the weight sum from 1.0
const WeightSumTolerance = 1e-6

// RetrievalConfig holds the tunables of a hybrid retriever.
// Obtain instances through New or Default; a value returned by either is valid.
type RetrievalConfig struct {
	BM25Weight       float64
	ActivationWeight float64
	SemanticWeight   float64

	ActivationTopK int // Candidates fetched by activation when keyword search is unavailable
	Stage1TopK     int // Candidates kept after keyword narrowing

	FallbackToActivation bool // Degrade to BM25 + activation when embeddings are unavailable
	UseStagedRetrieval   bool // Run the BM25 narrowing stage

	QueryCacheSize int
	QueryCacheTTL  time.Duration // Zero disables expiry

	MMRLambda float64
}

// ConfigError describes the first invalid field found during validation
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config field %s: %s", e.Field, e.Reason)
}

// Unwrap lets callers match config errors against types.ErrInvalidArgument
func (e *ConfigError) Unwrap() error {
	return types.ErrInvalidArgument
}

// Default returns the default retrieval configuration
func Default() RetrievalConfig {
	return RetrievalConfig{
		BM25Weight:           0.3,
		ActivationWeight:     0.3,
		SemanticWeight:       0.4,
		ActivationTopK:       500,
		Stage1TopK:           100,
		FallbackToActivation: true,
		UseStagedRetrieval:   true,
		QueryCacheSize:       100,
		QueryCacheTTL:        30 * time.Minute,
		MMRLambda:            0.5,
	}
}

// New validates cfg and returns it unchanged, or a *ConfigError.
// Out-of-range values are rejected, never clamped.
func New(cfg RetrievalConfig) (RetrievalConfig, error) {
	if err := cfg.Validate(); err != nil {
		return RetrievalConfig{}, err
	}
	return cfg, nil
}

// Validate checks every field of the configuration
func (c RetrievalConfig) Validate() error {
	weights := []struct {
		field string
		value float64
	}{
		{"bm25_weight", c.BM25Weight},
		{"activation_weight", c.ActivationWeight},
		{"semantic_weight", c.SemanticWeight},
	}
	for _, w := range weights {
		if err := checkUnit(w.field, w.value); err != nil {
			return err
		}
	}

	sum := c.BM25Weight + c.ActivationWeight + c.SemanticWeight
	if math.Abs(sum-1.0) > WeightSumTolerance {
		return &ConfigError{
			Field:  "weights",
			Reason: fmt.Sprintf("bm25, activation and semantic weights must sum to 1.0, got %g", sum),
		}
	}

	if c.ActivationTopK < 1 {
		return &ConfigError{Field: "activation_top_k", Reason: fmt.Sprintf("must be >= 1, got %d", c.ActivationTopK)}
	}
	if c.Stage1TopK < 1 {
		return &ConfigError{Field: "stage1_top_k", Reason: fmt.Sprintf("must be >= 1, got %d", c.Stage1TopK)}
	}
	if c.QueryCacheSize < 1 {
		return &ConfigError{Field: "query_cache_size", Reason: fmt.Sprintf("must be >= 1, got %d", c.QueryCacheSize)}
	}
	if c.QueryCacheTTL < 0 {
		return &ConfigError{Field: "query_cache_ttl", Reason: fmt.Sprintf("must be >= 0, got %s", c.QueryCacheTTL)}
	}

	return checkUnit("mmr_lambda", c.MMRLambda)
}

func checkUnit(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return &ConfigError{Field: field, Reason: fmt.Sprintf("must be in [0, 1], got %g", v)}
	}
	return nil
}

// Fingerprint returns a deterministic hash over every tunable field.
// Fields are hashed in sorted name order.
func (c RetrievalConfig) Fingerprint() string {
	fields := map[string]string{
		"bm25_weight":            strconv.FormatFloat(c.BM25Weight, 'g', -1, 64),
		"activation_weight":      strconv.FormatFloat(c.ActivationWeight, 'g', -1, 64),
		"semantic_weight":        strconv.FormatFloat(c.SemanticWeight, 'g', -1, 64),
		"activation_top_k":       strconv.Itoa(c.ActivationTopK),
		"stage1_top_k":           strconv.Itoa(c.Stage1TopK),
		"fallback_to_activation": strconv.FormatBool(c.FallbackToActivation),
		"use_staged_retrieval":   strconv.FormatBool(c.UseStagedRetrieval),
		"query_cache_size":       strconv.Itoa(c.QueryCacheSize),
		"query_cache_ttl":        c.QueryCacheTTL.String(),
		"mmr_lambda":             strconv.FormatFloat(c.MMRLambda, 'g', -1, 64),
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data strings.Builder
	for _, k := range keys {
		data.WriteString(k)
		data.WriteString("=")
		data.WriteString(fields[k])
		data.WriteString("|")
	}

	sum := sha256.Sum256([]byte(data.String()))
	return hex.EncodeToString(sum[:])
}
