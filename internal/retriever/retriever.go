package retriever

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/dshills/recall-mcp/internal/bm25"
	"github.com/dshills/recall-mcp/internal/config"
	"github.com/dshills/recall-mcp/internal/embedcache"
	"github.com/dshills/recall-mcp/internal/log"
	"github.com/dshills/recall-mcp/internal/scoring"
	"github.com/dshills/recall-mcp/internal/storage"
	"github.com/dshills/recall-mcp/pkg/types"
)

// QueryEmbedder turns a query into a vector
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Request contains parameters for a retrieval
type Request struct {
	Query string
	TopK  int

	// MinSemanticScore drops weak semantic matches. It only applies when the
	// configured BM25 weight is zero.
	MinSemanticScore *float64

	KindFilter types.ChunkKind // Empty means all kinds
	Diverse    bool            // Re-rank with MMR
	MMRLambda  *float64        // Overrides the configured lambda
}

// Stats counts retrievals that ran with degraded quality
type Stats struct {
	Retrievals         int64
	FallbackRetrievals int64 // Ran without semantic scoring
	StatFallbacks      int64 // Batch access-stat lookup failed
}

// errNoEmbedder marks a retriever built without an embedding backend
var errNoEmbedder = errors.New("no embedding backend configured")

// HybridRetriever ranks chunks by BM25, activation and semantic similarity.
// It is safe for concurrent use; only the query cache is shared state.
type HybridRetriever struct {
	store    storage.Store
	embedder QueryEmbedder
	cache    *embedcache.Cache
	cfg      config.RetrievalConfig

	retrievals    atomic.Int64
	fallbacks     atomic.Int64
	statFallbacks atomic.Int64

	dimWarned atomic.Bool
}

// New creates a retriever. embedder may be nil, in which case every call
// takes the dual-hybrid path. A nil cache selects the process-wide cache.
func New(store storage.Store, embedder QueryEmbedder, cache *embedcache.Cache, cfg config.RetrievalConfig) (*HybridRetriever, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", types.ErrInvalidArgument)
	}

	cfg, err := config.New(cfg)
	if err != nil {
		return nil, err
	}

	if cache == nil {
		cache, err = embedcache.Shared(cfg.QueryCacheSize, cfg.QueryCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrInvalidArgument, err)
		}
	}

	return &HybridRetriever{
		store:    store,
		embedder: embedder,
		cache:    cache,
		cfg:      cfg,
	}, nil
}

// Config returns the validated configuration
func (r *HybridRetriever) Config() config.RetrievalConfig {
	return r.cfg
}

// CacheStats returns the query embedding cache statistics
func (r *HybridRetriever) CacheStats() embedcache.Stats {
	return r.cache.Stats()
}

// ClearCache empties the query embedding cache
func (r *HybridRetriever) ClearCache() {
	r.cache.Clear()
}

// Stats returns the retrieval counters
func (r *HybridRetriever) Stats() Stats {
	return Stats{
		Retrievals:         r.retrievals.Load(),
		FallbackRetrievals: r.fallbacks.Load(),
		StatFallbacks:      r.statFallbacks.Load(),
	}
}

// Retrieve returns up to req.TopK chunks ranked by hybrid score
func (r *HybridRetriever) Retrieve(ctx context.Context, req Request) ([]types.ScoredResult, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	r.retrievals.Add(1)

	candidates, twoPhase, err := r.acquire(ctx, req.Query, req.KindFilter)
	if err != nil {
		return nil, fmt.Errorf("%w: candidate acquisition: %w", types.ErrStore, err)
	}
	if len(candidates) == 0 {
		return []types.ScoredResult{}, nil
	}

	queryVec, err := r.queryVector(ctx, req.Query)
	if err != nil {
		if !errors.Is(err, errNoEmbedder) && !r.cfg.FallbackToActivation {
			return nil, err
		}
		return r.fallback(ctx, req, candidates, twoPhase, err)
	}

	p := pipeline{
		r:        r,
		req:      req,
		queryVec: queryVec,
		weights:  scoring.WeightsFor,
	}
	return p.run(ctx, candidates, twoPhase)
}

// fallback ranks by BM25 and activation alone with the configured weights
// redistributed between them
func (r *HybridRetriever) fallback(ctx context.Context, req Request, candidates []*types.Chunk, twoPhase bool, cause error) ([]types.ScoredResult, error) {
	r.fallbacks.Add(1)
	log.Warnf("semantic matching unavailable, ranking by keyword and activation only: %v", cause)

	w := DualWeights(r.cfg)
	p := pipeline{
		r:       r,
		req:     req,
		weights: func(types.ChunkKind) scoring.Weights { return w },
	}
	return p.run(ctx, candidates, twoPhase)
}

// DualWeights redistributes the BM25 and activation weights of cfg so they
// sum to 1 with no semantic component. Activation takes all weight when both
// are zero.
func DualWeights(cfg config.RetrievalConfig) scoring.Weights {
	sum := cfg.BM25Weight + cfg.ActivationWeight
	if sum == 0 {
		return scoring.Weights{Activation: 1}
	}
	return scoring.Weights{
		BM25:       cfg.BM25Weight / sum,
		Activation: cfg.ActivationWeight / sum,
	}
}

func validateRequest(req *Request) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return fmt.Errorf("%w: query must not be empty", types.ErrInvalidArgument)
	}
	if req.TopK < 1 {
		return fmt.Errorf("%w: top_k must be >= 1, got %d", types.ErrInvalidArgument, req.TopK)
	}
	if req.KindFilter != "" && !req.KindFilter.Valid() {
		return fmt.Errorf("%w: unknown chunk kind %q", types.ErrInvalidArgument, req.KindFilter)
	}
	if l := req.MMRLambda; l != nil && (math.IsNaN(*l) || *l < 0 || *l > 1) {
		return fmt.Errorf("%w: mmr_lambda must be in [0, 1], got %g", types.ErrInvalidArgument, *l)
	}
	return nil
}

// acquire fetches first-pass candidates. Keyword search is preferred; stores
// without it are queried by activation. When the store can fetch embeddings
// separately the first pass skips them.
func (r *HybridRetriever) acquire(ctx context.Context, query string, kind types.ChunkKind) ([]*types.Chunk, bool, error) {
	_, twoPhase := r.store.(storage.EmbeddingFetcher)

	if ks, ok := r.store.(storage.KeywordSearcher); ok {
		chunks, err := ks.KeywordSearch(ctx, query, r.cfg.Stage1TopK, kind, !twoPhase)
		return chunks, twoPhase, err
	}

	chunks, err := r.store.ActivationSearch(ctx, -math.MaxFloat64, r.cfg.ActivationTopK, kind, !twoPhase)
	return chunks, twoPhase, err
}

// queryVector returns the query embedding, from cache when possible
func (r *HybridRetriever) queryVector(ctx context.Context, query string) ([]float32, error) {
	if r.embedder == nil {
		return nil, errNoEmbedder
	}

	if vec, ok := r.cache.Get(query); ok {
		return vec, nil
	}

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrEmbedding, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: backend returned an empty vector", types.ErrEmbedding)
	}

	r.cache.Set(query, vec)
	return vec, nil
}

// pipeline is the per-call scoring state. A nil queryVec means dual-hybrid.
type pipeline struct {
	r        *HybridRetriever
	req      Request
	queryVec []float32
	weights  func(types.ChunkKind) scoring.Weights

	index *bm25.Index
}

// scored is a candidate with its raw component scores
type scored struct {
	chunk                      *types.Chunk
	embedding                  []float32
	bm25, activation, semantic float64
}

func (p *pipeline) run(ctx context.Context, candidates []*types.Chunk, twoPhase bool) ([]types.ScoredResult, error) {
	cfg := p.r.cfg
	semantic := p.queryVec != nil

	// Stage 1: keyword-ranked candidates are already narrowed
	keywordRanked := candidates[0].HasKeywordRank()
	if !keywordRanked && cfg.UseStagedRetrieval && cfg.BM25Weight > 0 {
		candidates = p.narrow(candidates)
	}

	embeddings, err := p.attachEmbeddings(ctx, candidates, twoPhase, semantic || p.req.Diverse)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding fetch: %w", types.ErrStore, err)
	}
	if semantic {
		p.dropMismatched(embeddings)
	}

	items := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		item := scored{
			chunk:      c,
			embedding:  embeddings[c.ID],
			activation: c.Activation,
		}

		if semantic {
			if len(item.embedding) > 0 {
				item.semantic = scoring.Similarity(p.queryVec, item.embedding)
			} else if !cfg.FallbackToActivation {
				continue
			}
		}

		switch {
		case c.HasKeywordRank():
			item.bm25 = -*c.KeywordRank
		case cfg.BM25Weight > 0:
			item.bm25 = p.bm25Index(candidates).Score(p.req.Query, c.SearchText())
		}

		// Tri-hybrid keeps strong keyword matches with weak semantic similarity
		if semantic && cfg.BM25Weight == 0 && p.req.MinSemanticScore != nil && item.semantic < *p.req.MinSemanticScore {
			continue
		}

		items = append(items, item)
	}

	if len(items) == 0 {
		return []types.ScoredResult{}, nil
	}

	results := p.combine(items)
	p.r.enrich(ctx, results, items)

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].HybridScore != results[j].HybridScore {
			return results[i].HybridScore > results[j].HybridScore
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if p.req.Diverse {
		lambda := cfg.MMRLambda
		if p.req.MMRLambda != nil {
			lambda = *p.req.MMRLambda
		}
		return scoring.MMR(results, embeddings, p.req.TopK, lambda), nil
	}

	if len(results) > p.req.TopK {
		results = results[:p.req.TopK]
	}
	return results, nil
}

// narrow keeps the Stage1TopK best candidates by BM25, best first
func (p *pipeline) narrow(candidates []*types.Chunk) []*types.Chunk {
	byID := make(map[string]*types.Chunk, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	hits := p.bm25Index(candidates).TopK(p.req.Query, p.r.cfg.Stage1TopK)
	out := make([]*types.Chunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, byID[h.ID])
	}
	return out
}

// bm25Index builds the per-call index over the first-pass candidates once
func (p *pipeline) bm25Index(candidates []*types.Chunk) *bm25.Index {
	if p.index == nil {
		docs := make([]bm25.Document, len(candidates))
		for i, c := range candidates {
			docs[i] = bm25.Document{ID: c.ID, Text: c.SearchText()}
		}
		p.index = bm25.Build(docs)
	}
	return p.index
}

// attachEmbeddings collects candidate vectors. With a two-phase store the
// vectors are fetched now, for the narrowed set only.
func (p *pipeline) attachEmbeddings(ctx context.Context, candidates []*types.Chunk, twoPhase, needed bool) (map[string][]float32, error) {
	embeddings := make(map[string][]float32, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) > 0 {
			embeddings[c.ID] = c.Embedding
		}
	}

	if !twoPhase || !needed {
		return embeddings, nil
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := embeddings[c.ID]; !ok {
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		return embeddings, nil
	}

	fetched, err := p.r.store.(storage.EmbeddingFetcher).FetchEmbeddings(ctx, ids)
	if err != nil {
		return nil, err
	}
	for id, v := range fetched {
		if len(v) > 0 {
			embeddings[id] = v
		}
	}
	return embeddings, nil
}

// dropMismatched removes vectors whose dimension differs from the query's.
// They were produced by another model and count as missing.
func (p *pipeline) dropMismatched(embeddings map[string][]float32) {
	stale := 0
	for id, v := range embeddings {
		if len(v) != len(p.queryVec) {
			delete(embeddings, id)
			stale++
		}
	}
	if stale > 0 && p.r.dimWarned.CompareAndSwap(false, true) {
		log.Warnf("ignoring %d stored embeddings with a dimension other than %d; re-ingest to refresh them",
			stale, len(p.queryVec))
	}
}

// combine normalizes each component independently and applies the weights
func (p *pipeline) combine(items []scored) []types.ScoredResult {
	rawBM25 := make([]float64, len(items))
	rawAct := make([]float64, len(items))
	rawSem := make([]float64, len(items))
	for i, it := range items {
		rawBM25[i] = it.bm25
		rawAct[i] = it.activation
		rawSem[i] = it.semantic
	}

	normBM25 := scoring.Normalize(rawBM25)
	normAct := scoring.Normalize(rawAct)
	normSem := scoring.Normalize(rawSem)

	results := make([]types.ScoredResult, len(items))
	for i, it := range items {
		w := p.weights(it.chunk.Kind())
		results[i] = types.ScoredResult{
			ChunkID:         it.chunk.ID,
			Content:         it.chunk.DisplayContent(),
			BM25Score:       normBM25[i],
			ActivationScore: normAct[i],
			SemanticScore:   normSem[i],
			HybridScore:     w.Combine(normBM25[i], normAct[i], normSem[i]),
			Metadata:        types.MetadataFor(it.chunk),
		}
	}
	return results
}

// enrich attaches access statistics. It never fails: a failed batch lookup
// falls back to per-chunk lookups and a failed lookup leaves zero stats.
func (r *HybridRetriever) enrich(ctx context.Context, results []types.ScoredResult, items []scored) {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.chunk.ID
	}

	if b, ok := r.store.(storage.BatchAccessStatsFetcher); ok {
		stats, err := b.BatchAccessStats(ctx, ids)
		if err == nil {
			for i := range results {
				setAccess(&results[i], stats[results[i].ChunkID])
			}
			return
		}
		r.statFallbacks.Add(1)
		log.Warnf("batch access stats failed, falling back to per-chunk lookup: %v", err)
	}

	for i := range results {
		s, err := r.store.AccessStats(ctx, results[i].ChunkID)
		if err != nil {
			log.Debugf("access stats unavailable for %s: %v", results[i].ChunkID, err)
			s = types.AccessStats{}
		}
		setAccess(&results[i], s)
	}
}

func setAccess(res *types.ScoredResult, s types.AccessStats) {
	res.Metadata.AccessCount = s.AccessCount
	res.Metadata.LastAccessed = s.LastAccessed
}
