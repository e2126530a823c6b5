// Package embedder generates vector embeddings for chunks and queries.
//
// Three providers are available: "openai" (official SDK, any compatible
// endpoint), "jina" (Jina AI HTTP API) and "local" (deterministic feature
// hashing, no network). Remote providers retry transient failures with
// exponential backoff and can share a content-hash Cache.
//
// Jina embeds single texts with its query adapter and batches with its
// passage adapter, so the indexer should always go through GenerateBatch.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "local"})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: "func ParseFile(path string) error",
//	})
//
// # Retrieval
//
// The retriever only needs one vector per query. Wrap any Embedder in a
// QueryAdapter to get an EmbedQuery method.
package embedder
