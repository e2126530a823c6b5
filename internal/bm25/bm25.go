// Package bm25 implements an in-memory Okapi BM25 scorer over a small corpus.
//
// An Index is built per retrieval call from the candidate set and thrown away
// afterwards; nothing is cached across calls.
package bm25

import (
	"math"
	"sort"

	"github.com/dshills/recall-mcp/internal/tokenize"
)

// Okapi parameters
const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

// Document is one (id, text) pair fed to Build
type Document struct {
	ID   string
	Text string
}

// Hit is a scored document returned by TopK
type Hit struct {
	ID    string
	Score float64
}

// Index holds corpus statistics for scoring
type Index struct {
	k1, b     float64
	docFreq   map[string]int
	docCount  int
	avgDocLen float64

	ids    []string
	terms  []map[string]int
	length []int
}

// Build indexes docs with the default parameters
func Build(docs []Document) *Index {
	return BuildWithParams(docs, DefaultK1, DefaultB)
}

// BuildWithParams indexes docs with explicit k1 and b
func BuildWithParams(docs []Document, k1, b float64) *Index {
	idx := &Index{
		k1:      k1,
		b:       b,
		docFreq: make(map[string]int),
		ids:     make([]string, 0, len(docs)),
		terms:   make([]map[string]int, 0, len(docs)),
		length:  make([]int, 0, len(docs)),
	}

	total := 0
	for _, d := range docs {
		tokens := tokenize.Tokens(d.Text)
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		for t := range tf {
			idx.docFreq[t]++
		}
		idx.ids = append(idx.ids, d.ID)
		idx.terms = append(idx.terms, tf)
		idx.length = append(idx.length, len(tokens))
		total += len(tokens)
	}

	idx.docCount = len(docs)
	if idx.docCount > 0 {
		idx.avgDocLen = float64(total) / float64(idx.docCount)
	}
	return idx
}

// Len returns the number of indexed documents
func (idx *Index) Len() int {
	return idx.docCount
}

// idf is the Lucene variant, which is never negative
func (idx *Index) idf(term string) float64 {
	n := float64(idx.docFreq[term])
	N := float64(idx.docCount)
	return math.Log(1 + (N-n+0.5)/(n+0.5))
}

// Score returns the BM25 score of text against query using the corpus
// statistics of the index. Text need not be part of the corpus.
func (idx *Index) Score(query, text string) float64 {
	tokens := tokenize.Tokens(text)
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	return idx.score(tokenize.Unique(query), tf, len(tokens))
}

func (idx *Index) score(queryTerms []string, tf map[string]int, docLen int) float64 {
	if idx.docCount == 0 || docLen == 0 {
		return 0
	}

	avg := idx.avgDocLen
	if avg == 0 {
		avg = 1
	}

	var s float64
	for _, term := range queryTerms {
		f := float64(tf[term])
		if f == 0 {
			continue
		}
		norm := 1 - idx.b + idx.b*float64(docLen)/avg
		s += idx.idf(term) * (f * (idx.k1 + 1)) / (f + idx.k1*norm)
	}
	return s
}

// TopK returns the k best-scoring documents for query, best first.
// Ties keep corpus order. Documents scoring zero are included only when
// fewer than k documents match.
func (idx *Index) TopK(query string, k int) []Hit {
	queryTerms := tokenize.Unique(query)

	hits := make([]Hit, len(idx.ids))
	for i, id := range idx.ids {
		hits[i] = Hit{ID: id, Score: idx.score(queryTerms, idx.terms[i], idx.length[i])}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if k >= 0 && k < len(hits) {
		hits = hits[:k]
	}
	return hits
}
