// Package scoring holds the numeric building blocks of hybrid ranking:
// min-max normalization, cosine similarity, per-kind weight profiles and
// MMR diversity re-ranking.
package scoring

import (
	"math"

	"github.com/dshills/recall-mcp/pkg/types"
)

// DegenerateRange is the spread below which a score list counts as constant
const DegenerateRange = 1e-9

// Weights is a bm25/activation/semantic weight triple
type Weights struct {
	BM25       float64
	Activation float64
	Semantic   float64
}

// Combine returns the weighted sum of the three component scores
func (w Weights) Combine(bm25, activation, semantic float64) float64 {
	return w.BM25*bm25 + w.Activation*activation + w.Semantic*semantic
}

// Weight profiles by chunk kind. Identifiers match exactly as tokens, so code
// leans on keyword relevance; prose leans on embeddings.
var (
	CodeWeights      = Weights{BM25: 0.5, Activation: 0.3, Semantic: 0.2}
	KnowledgeWeights = Weights{BM25: 0.3, Activation: 0.3, Semantic: 0.4}
)

// WeightsFor returns the weight profile for kind
func WeightsFor(kind types.ChunkKind) Weights {
	if kind == types.KindCode {
		return CodeWeights
	}
	return KnowledgeWeights
}

// Normalize min-max scales scores to [0,1] and returns a new slice.
// When max-min is below DegenerateRange the values are returned unchanged,
// so a batch of identical zeros stays zero.
func Normalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	copy(out, scores)
	if len(scores) == 0 {
		return out
	}

	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}

	span := hi - lo
	if span < DegenerateRange {
		return out
	}

	for i, s := range scores {
		out[i] = (s - lo) / span
	}
	return out
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Mismatched lengths and zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Rescale maps a cosine similarity from [-1,1] to [0,1]
func Rescale(cos float64) float64 {
	return (cos + 1) / 2
}

// Similarity is CosineSimilarity rescaled to [0,1]. Vectors of different
// dimension map to 0.5, so callers drop them before scoring.
func Similarity(a, b []float32) float64 {
	return Rescale(CosineSimilarity(a, b))
}
