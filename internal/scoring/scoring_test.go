package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/recall-mcp/pkg/types"
)

func TestNormalizeDegenerate(t *testing.T) {
	assert.Equal(t, []float64{0, 0, 0}, Normalize([]float64{0, 0, 0}))
	assert.Equal(t, []float64{0.7, 0.7}, Normalize([]float64{0.7, 0.7}))
	assert.Equal(t, []float64{3}, Normalize([]float64{3}))
	assert.Equal(t, []float64{0.5, 0.5 + 1e-10}, Normalize([]float64{0.5, 0.5 + 1e-10}))
	assert.Empty(t, Normalize(nil))
}

func TestNormalizeRangeAndOrder(t *testing.T) {
	inputs := [][]float64{
		{5, -1, 2},
		{0.1, 0.9, 0.4, 0.4},
		{-10, -5, -7.5},
		{1e-3, 2e-3},
	}

	for _, in := range inputs {
		out := Normalize(in)
		require.Len(t, out, len(in))
		for i := range out {
			assert.GreaterOrEqual(t, out[i], 0.0)
			assert.LessOrEqual(t, out[i], 1.0)
			for j := range out {
				if in[i] < in[j] {
					assert.Less(t, out[i], out[j])
				}
				if in[i] == in[j] {
					assert.Equal(t, out[i], out[j])
				}
			}
		}
	}

	assert.Equal(t, []float64{1, 0, 0.5}, Normalize([]float64{5, -1, 2}))
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	in := []float64{1, 2, 3}
	_ = Normalize(in)
	assert.Equal(t, []float64{1, 2, 3}, in)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))

	assert.Equal(t, 0.0, Rescale(-1))
	assert.Equal(t, 0.5, Rescale(0))
	assert.Equal(t, 1.0, Rescale(1))
}

func TestWeightsFor(t *testing.T) {
	assert.Equal(t, CodeWeights, WeightsFor(types.KindCode))
	assert.Equal(t, KnowledgeWeights, WeightsFor(types.KindKnowledge))
	assert.Equal(t, KnowledgeWeights, WeightsFor(types.ChunkKind("other")))

	for _, w := range []Weights{CodeWeights, KnowledgeWeights} {
		assert.InDelta(t, 1.0, w.BM25+w.Activation+w.Semantic, 1e-12)
	}
	assert.InDelta(t, 0.8, CodeWeights.Combine(1, 1, 0), 1e-12)
}

func mmrFixture() ([]types.ScoredResult, map[string][]float32) {
	results := []types.ScoredResult{
		{ChunkID: "a", HybridScore: 1.0},
		{ChunkID: "b", HybridScore: 0.9},
		{ChunkID: "c", HybridScore: 0.5},
		{ChunkID: "d", HybridScore: 0.3},
	}
	embeddings := map[string][]float32{
		"a": {1, 0},
		"b": {0.99, 0.1}, // near duplicate of a
		"c": {0, 1},
		"d": {-1, 0},
	}
	return results, embeddings
}

func ids(results []types.ScoredResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ChunkID
	}
	return out
}

func TestMMRPureRelevanceKeepsOrder(t *testing.T) {
	results, embeddings := mmrFixture()
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(MMR(results, embeddings, 4, 1.0)))
	assert.Equal(t, []string{"a", "b"}, ids(MMR(results, embeddings, 2, 1.0)))
}

func TestMMRPureDiversityAvoidsMostSimilar(t *testing.T) {
	results, embeddings := mmrFixture()

	out := MMR(results, embeddings, 4, 0.0)
	require.Len(t, out, 4)
	assert.Equal(t, "a", out[0].ChunkID)

	// The most similar item to the first pick must not come second
	mostSimilar := ""
	best := math.Inf(-1)
	for _, r := range results[1:] {
		if s := Similarity(embeddings["a"], embeddings[r.ChunkID]); s > best {
			best, mostSimilar = s, r.ChunkID
		}
	}
	assert.Equal(t, "b", mostSimilar)
	assert.NotEqual(t, mostSimilar, out[1].ChunkID)
	assert.Equal(t, "d", out[1].ChunkID)
}

func TestMMRBalanced(t *testing.T) {
	results, embeddings := mmrFixture()

	// b: 0.5*0.9 + 0.5*(1-0.9975) ~ 0.451; c: 0.5*0.5 + 0.5*0.5 = 0.5; d: 0.5*0.3 + 0.5*1 = 0.65
	out := MMR(results, embeddings, 2, 0.5)
	assert.Equal(t, []string{"a", "d"}, ids(out))
}

func TestMMRMissingEmbeddingHasNoDiversity(t *testing.T) {
	results := []types.ScoredResult{
		{ChunkID: "a", HybridScore: 1.0},
		{ChunkID: "b", HybridScore: 0.9},
		{ChunkID: "c", HybridScore: 0.1},
	}
	embeddings := map[string][]float32{
		"a": {1, 0},
		"c": {0, 1},
	}

	out := MMR(results, embeddings, 3, 0.0)
	assert.Equal(t, []string{"a", "c", "b"}, ids(out))
}

func TestMMRTiesKeepOriginalOrder(t *testing.T) {
	results := []types.ScoredResult{
		{ChunkID: "a", HybridScore: 0.5},
		{ChunkID: "b", HybridScore: 0.5},
		{ChunkID: "c", HybridScore: 0.5},
	}

	out := MMR(results, nil, 3, 0.3)
	assert.Equal(t, []string{"a", "b", "c"}, ids(out))
}

func TestMMREdgeCases(t *testing.T) {
	results, embeddings := mmrFixture()
	assert.Empty(t, MMR(nil, embeddings, 3, 0.5))
	assert.Empty(t, MMR(results, embeddings, 0, 0.5))
	assert.Len(t, MMR(results, embeddings, 10, 0.5), 4)

	// Input is not reordered in place
	_ = MMR(results, embeddings, 4, 0.0)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(results))
}
