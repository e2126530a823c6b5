// Package retriever implements staged tri-hybrid retrieval.
//
// A HybridRetriever pulls candidates from a store, optionally narrows them
// with BM25, scores each on keyword relevance, activation and semantic
// similarity, normalizes the three signals independently and combines them
// with per-kind weights:
//
//	code:      0.5 bm25 + 0.3 activation + 0.2 semantic
//	knowledge: 0.3 bm25 + 0.3 activation + 0.4 semantic
//
// When no query embedding is available and fallback is enabled, ranking
// continues on BM25 and activation alone. MMR re-ranking is available per
// request.
//
// # Basic Usage
//
//	r, err := retriever.New(store, embedder.QueryAdapter{Embedder: emb}, cache, config.Default())
//	if err != nil {
//	    return err
//	}
//
//	results, err := r.Retrieve(ctx, retriever.Request{
//	    Query: "validate session token",
//	    TopK:  10,
//	})
//
// InstanceCache shares retrievers between callers that use the same data
// source and configuration.
package retriever
