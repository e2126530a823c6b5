// Package types provides shared type definitions for the recall retrieval core.
//
// # Chunks
//
// Chunk is an indexed unit of content. Its Body is a sealed union of two
// variants, and the kind of a chunk is derived from the variant:
//
//	code := &types.Chunk{
//	    ID: "auth.go#ValidateToken",
//	    Body: types.CodeBody{
//	        Name:         "ValidateToken",
//	        Signature:    "func ValidateToken(tok string) (*Claims, error)",
//	        Docstring:    "ValidateToken parses and verifies a JWT.",
//	        Dependencies: []string{"jwt.Parse", "Claims"},
//	        FilePath:     "internal/auth/token.go",
//	    },
//	}
//
//	note := &types.Chunk{
//	    ID:   "kb/deploy#3",
//	    Body: types.KnowledgeBody{Content: "Deploys run from the release branch."},
//	}
//
// SearchText returns what the keyword scorer sees for a chunk; it switches
// exhaustively over the body variants.
//
// # Results
//
// ScoredResult carries the three normalized component scores (BM25,
// activation, semantic) and their weighted combination HybridScore, which is
// the sort key. Results are created fresh for every retrieval.
//
// # Errors
//
// ErrInvalidArgument, ErrEmbedding and ErrStore are the error categories of
// the retrieval core. They are wrapped together with the underlying cause:
//
//	if errors.Is(err, types.ErrInvalidArgument) {
//	    // bad request, do not retry
//	}
package types
