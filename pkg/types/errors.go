package types

import "errors"

// Error categories surfaced by the retrieval core.
// Wrapped errors keep the category so callers can use errors.Is.
var (
	// ErrInvalidArgument covers empty queries, non-positive limits and bad config values
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrEmbedding is returned when the embedding backend fails and fallback is disabled
	ErrEmbedding = errors.New("embedding failed")
	// ErrStore is returned when candidate acquisition fails
	ErrStore = errors.New("store failed")
)
