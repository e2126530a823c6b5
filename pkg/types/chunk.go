package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ChunkKind selects the weight profile applied to a chunk during scoring
type ChunkKind string

const (
	KindCode      ChunkKind = "code"
	KindKnowledge ChunkKind = "knowledge"
)

// Valid reports whether k is a known chunk kind
func (k ChunkKind) Valid() bool {
	return k == KindCode || k == KindKnowledge
}

// ChunkBody is the kind-specific payload of a chunk.
// Only CodeBody and KnowledgeBody values are supported; pointers to them
// satisfy the interface too but are rejected by Chunk.Validate.
type ChunkBody interface {
	kind() ChunkKind
}

// CodeBody holds the extractable fields of a source-code symbol
type CodeBody struct {
	Name         string
	Signature    string
	Docstring    string
	Dependencies []string // Identifiers the symbol references
	FilePath     string
	StartLine    int
	EndLine      int
}

func (CodeBody) kind() ChunkKind { return KindCode }

// KnowledgeBody holds an opaque documentation or conversation passage
type KnowledgeBody struct {
	Content string
	Source  string // Originating document, if known
}

func (KnowledgeBody) kind() ChunkKind { return KindKnowledge }

// Provenance carries source-control metadata passed through to results
type Provenance struct {
	CommitCount  int
	LastModified time.Time
	GitHash      string
}

// AccessStats is the usage record kept by the store for a chunk
type AccessStats struct {
	AccessCount  int
	LastAccessed time.Time
}

// Chunk represents an indexed unit of content as returned by the store
type Chunk struct {
	// Identification
	ID   string
	Body ChunkBody

	// Signals attached by the store at retrieval time
	Activation  float64
	Embedding   []float32 // Nil when not loaded or not computed
	KeywordRank *float64  // Set only by full-text search; lower is more relevant

	// Read-only passthrough
	Provenance Provenance
	Access     AccessStats
}

// Kind returns the chunk kind derived from its body.
// Chunks without a body are treated as knowledge.
func (c *Chunk) Kind() ChunkKind {
	if c.Body == nil {
		return KindKnowledge
	}
	return c.Body.kind()
}

// HasKeywordRank reports whether the chunk came from full-text search
func (c *Chunk) HasKeywordRank() bool {
	return c.KeywordRank != nil
}

// SearchText returns the text fed to the keyword scorer.
// Code chunks concatenate name, signature, docstring, dependencies and file path.
// Missing or unsupported bodies yield "".
func (c *Chunk) SearchText() string {
	switch b := c.Body.(type) {
	case CodeBody:
		parts := make([]string, 0, 4+len(b.Dependencies))
		for _, p := range []string{b.Name, b.Signature, b.Docstring} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		parts = append(parts, b.Dependencies...)
		if b.FilePath != "" {
			parts = append(parts, b.FilePath)
		}
		return strings.Join(parts, " ")
	case KnowledgeBody:
		return b.Content
	default:
		return ""
	}
}

// DisplayContent returns the content placed in a search result
func (c *Chunk) DisplayContent() string {
	switch b := c.Body.(type) {
	case CodeBody:
		var sb strings.Builder
		if b.Docstring != "" {
			sb.WriteString(b.Docstring)
			sb.WriteString("\n")
		}
		if b.Signature != "" {
			sb.WriteString(b.Signature)
		} else {
			sb.WriteString(b.Name)
		}
		return sb.String()
	case KnowledgeBody:
		return b.Content
	default:
		return ""
	}
}

// Validate checks that the chunk can be stored
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return errors.New("chunk ID is required")
	}

	switch b := c.Body.(type) {
	case CodeBody:
		if b.Name == "" {
			return errors.New("code chunk name is required")
		}
		if b.StartLine > 0 && b.EndLine > 0 && b.StartLine > b.EndLine {
			return errors.New("start line must be before or equal to end line")
		}
	case KnowledgeBody:
		if strings.TrimSpace(b.Content) == "" {
			return errors.New("knowledge chunk content cannot be empty")
		}
	case nil:
		return errors.New("chunk body is required")
	default:
		return fmt.Errorf("%w: unsupported chunk body %T", ErrInvalidArgument, b)
	}

	return nil
}
