package types

import "time"

// ScoredResult is a single ranked retrieval result.
// Component scores are min-max normalized within the batch they were produced
// in. A component with no spread keeps its raw values, so scores from a
// single candidate are not bounded to [0, 1].
type ScoredResult struct {
	// Identification
	ChunkID string
	Content string

	// Scoring
	BM25Score       float64
	ActivationScore float64
	SemanticScore   float64
	HybridScore     float64 // Weighted combination; the sort key

	Metadata ResultMetadata
}

// ResultMetadata is passthrough data from the chunk plus enrichment
type ResultMetadata struct {
	Kind      ChunkKind
	Name      string // Code chunks only
	FilePath  string // Code chunks only
	StartLine int
	EndLine   int
	Source    string // Knowledge chunks only

	// Access statistics attached during enrichment
	AccessCount  int
	LastAccessed time.Time

	// Provenance
	CommitCount  int
	LastModified time.Time
	GitHash      string
}

// MetadataFor builds result metadata from a chunk
func MetadataFor(c *Chunk) ResultMetadata {
	meta := ResultMetadata{
		Kind:         c.Kind(),
		AccessCount:  c.Access.AccessCount,
		LastAccessed: c.Access.LastAccessed,
		CommitCount:  c.Provenance.CommitCount,
		LastModified: c.Provenance.LastModified,
		GitHash:      c.Provenance.GitHash,
	}

	switch b := c.Body.(type) {
	case CodeBody:
		meta.Name = b.Name
		meta.FilePath = b.FilePath
		meta.StartLine = b.StartLine
		meta.EndLine = b.EndLine
	case KnowledgeBody:
		meta.Source = b.Source
	}

	return meta
}
