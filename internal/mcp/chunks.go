package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/recall-mcp/pkg/types"
)

// chunkInput is the wire form of a chunk accepted by ingest_chunks
type chunkInput struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`

	// Code chunks
	Name         string   `json:"name"`
	Signature    string   `json:"signature"`
	Docstring    string   `json:"docstring"`
	Dependencies []string `json:"dependencies"`
	FilePath     string   `json:"file_path"`
	StartLine    int      `json:"start_line"`
	EndLine      int      `json:"end_line"`

	// Knowledge chunks
	Content string `json:"content"`
	Source  string `json:"source"`

	Activation   float64 `json:"activation"`
	CommitCount  int     `json:"commit_count"`
	LastModified string  `json:"last_modified"`
	GitHash      string  `json:"git_hash"`
}

// decodeChunks converts the raw chunks argument. Entries that cannot be
// decoded are skipped and described in the returned problems.
func decodeChunks(raw interface{}) ([]*types.Chunk, []string, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, nil, fmt.Errorf("chunks must be an array")
	}

	chunks := make([]*types.Chunk, 0, len(items))
	var problems []string
	for i, item := range items {
		chunk, err := decodeChunk(item)
		if err != nil {
			problems = append(problems, fmt.Sprintf("chunk %d: %v", i, err))
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks, problems, nil
}

func decodeChunk(item interface{}) (*types.Chunk, error) {
	// Arguments arrive as generic JSON; round-trip to get typed fields
	data, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	var in chunkInput
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	return in.toChunk()
}

func (in chunkInput) toChunk() (*types.Chunk, error) {
	chunk := &types.Chunk{
		ID:         in.ID,
		Activation: in.Activation,
		Provenance: types.Provenance{
			CommitCount: in.CommitCount,
			GitHash:     in.GitHash,
		},
	}

	if in.LastModified != "" {
		t, err := time.Parse(time.RFC3339, in.LastModified)
		if err != nil {
			return nil, fmt.Errorf("invalid last_modified: %w", err)
		}
		chunk.Provenance.LastModified = t
	}

	switch types.ChunkKind(strings.ToLower(in.Kind)) {
	case types.KindCode:
		chunk.Body = types.CodeBody{
			Name:         in.Name,
			Signature:    in.Signature,
			Docstring:    in.Docstring,
			Dependencies: in.Dependencies,
			FilePath:     in.FilePath,
			StartLine:    in.StartLine,
			EndLine:      in.EndLine,
		}
	case types.KindKnowledge:
		chunk.Body = types.KnowledgeBody{Content: in.Content, Source: in.Source}
	default:
		return nil, fmt.Errorf("unknown kind %q", in.Kind)
	}

	return chunk, nil
}

// resultOutput is the wire form of a retrieval result
type resultOutput struct {
	ChunkID         string  `json:"chunk_id"`
	Kind            string  `json:"kind"`
	Content         string  `json:"content"`
	HybridScore     float64 `json:"hybrid_score"`
	BM25Score       float64 `json:"bm25_score"`
	ActivationScore float64 `json:"activation_score"`
	SemanticScore   float64 `json:"semantic_score"`

	Name      string `json:"name,omitempty"`
	FilePath  string `json:"file_path,omitempty"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	Source    string `json:"source,omitempty"`

	AccessCount  int    `json:"access_count"`
	LastAccessed string `json:"last_accessed,omitempty"`
	CommitCount  int    `json:"commit_count,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	GitHash      string `json:"git_hash,omitempty"`
}

func toResultOutput(r types.ScoredResult) resultOutput {
	m := r.Metadata
	return resultOutput{
		ChunkID:         r.ChunkID,
		Kind:            string(m.Kind),
		Content:         r.Content,
		HybridScore:     r.HybridScore,
		BM25Score:       r.BM25Score,
		ActivationScore: r.ActivationScore,
		SemanticScore:   r.SemanticScore,
		Name:            m.Name,
		FilePath:        m.FilePath,
		StartLine:       m.StartLine,
		EndLine:         m.EndLine,
		Source:          m.Source,
		AccessCount:     m.AccessCount,
		LastAccessed:    formatTime(m.LastAccessed),
		CommitCount:     m.CommitCount,
		LastModified:    formatTime(m.LastModified),
		GitHash:         m.GitHash,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
