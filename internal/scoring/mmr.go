package scoring

import "github.com/dshills/recall-mcp/pkg/types"

// MMR re-orders relevance-sorted results with Maximal Marginal Relevance and
// returns at most topK of them.
//
// The first result is always selected first. Each following pick maximizes
//
//	lambda*HybridScore + (1-lambda)*(1 - max similarity to selected)
//
// where similarity is the rescaled cosine against already-selected results
// that have an embedding. A candidate without an embedding gets diversity 0.
// Ties go to the earlier result.
func MMR(results []types.ScoredResult, embeddings map[string][]float32, topK int, lambda float64) []types.ScoredResult {
	if topK <= 0 || len(results) == 0 {
		return []types.ScoredResult{}
	}
	if topK > len(results) {
		topK = len(results)
	}

	selected := make([]types.ScoredResult, 0, topK)
	var selectedVecs [][]float32

	remaining := make([]types.ScoredResult, len(results))
	copy(remaining, results)

	pick := func(i int) {
		r := remaining[i]
		selected = append(selected, r)
		if v := embeddings[r.ChunkID]; len(v) > 0 {
			selectedVecs = append(selectedVecs, v)
		}
		remaining = append(remaining[:i], remaining[i+1:]...)
	}

	pick(0)

	for len(selected) < topK && len(remaining) > 0 {
		best := 0
		bestScore := 0.0

		for i, cand := range remaining {
			score := lambda*cand.HybridScore + (1-lambda)*diversity(embeddings[cand.ChunkID], selectedVecs)
			if i == 0 || score > bestScore {
				best, bestScore = i, score
			}
		}

		pick(best)
	}

	return selected
}

func diversity(vec []float32, selected [][]float32) float64 {
	if len(vec) == 0 {
		return 0
	}

	maxSim := 0.0
	for _, s := range selected {
		if sim := Similarity(vec, s); sim > maxSim {
			maxSim = sim
		}
	}
	return 1 - maxSim
}
