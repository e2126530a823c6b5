// Package indexer ingests already-produced chunks into the store.
//
// Chunks are validated, split into batches, embedded one batch per provider
// call and written with their embeddings in one transaction per batch.
// Batches run concurrently up to Config.Workers.
//
// # Usage
//
//	idx := indexer.New(store, emb)
//	stats, err := idx.Ingest(ctx, chunks, &indexer.Config{BatchSize: 32})
//	if errors.Is(err, indexer.ErrIngestInProgress) {
//	    // another ingest is running
//	}
//
// # Failure Handling
//
//   - Invalid chunks are skipped and listed in Statistics.ErrorMessages
//   - A failed embedding call stores its batch without vectors; retrieval
//     ranks those chunks by keyword and activation only
//   - A storage error aborts the ingest; batches already committed stay
//
// Only one ingest runs at a time per Indexer. A second call returns
// ErrIngestInProgress immediately rather than waiting.
package indexer
