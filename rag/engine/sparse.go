package engine

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/finargo/corpusbank/rag/types"
)

// BM25 defaults, tuned for prose-length document chunks.
const (
	DefaultBM25K1 = 1.2
	DefaultBM25B  = 0.75
)

// SparseIndex is an in-memory BM25 inverted index over corpus chunks.
// Build assembles a complete snapshot off to the side and swaps it in
// atomically, so concurrent searches always observe one consistent
// generation and never a partially built index.
type SparseIndex struct {
	k1 float64
	b  float64

	mu   sync.RWMutex
	snap *sparseSnapshot
}

// sparseSnapshot is one immutable index generation. It is never mutated
// after construction.
type sparseSnapshot struct {
	chunks   map[string]types.Chunk
	postings map[string]map[string]int // term -> chunk ID -> term frequency
	docLen   map[string]int
	avgLen   float64
}

// NewSparseIndex creates an empty index. Pass zero values to use the
// BM25 defaults.
func NewSparseIndex(k1, b float64) *SparseIndex {
	if k1 <= 0 {
		k1 = DefaultBM25K1
	}
	if b <= 0 {
		b = DefaultBM25B
	}
	return &SparseIndex{k1: k1, b: b, snap: buildSnapshot(nil)}
}

// Build indexes the given chunks, fully replacing any previous state.
// Duplicate chunk IDs within one build overwrite earlier occurrences.
// Building with the same corpus twice yields identical search results.
func (s *SparseIndex) Build(chunks []types.Chunk) {
	snap := buildSnapshot(chunks)
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

func buildSnapshot(chunks []types.Chunk) *sparseSnapshot {
	snap := &sparseSnapshot{
		chunks:   make(map[string]types.Chunk, len(chunks)),
		postings: make(map[string]map[string]int),
		docLen:   make(map[string]int, len(chunks)),
	}
	for _, c := range chunks {
		snap.chunks[c.ID] = c
	}

	total := 0
	for id, c := range snap.chunks {
		terms := tokenize(c.Content)
		snap.docLen[id] = len(terms)
		total += len(terms)
		for _, term := range terms {
			p := snap.postings[term]
			if p == nil {
				p = make(map[string]int)
				snap.postings[term] = p
			}
			p[id]++
		}
	}
	if len(snap.chunks) > 0 {
		snap.avgLen = float64(total) / float64(len(snap.chunks))
	}
	return snap
}

func (s *SparseIndex) snapshot() *sparseSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Search scores the indexed chunks against the query with BM25 and
// returns up to k candidates, best first, ties broken by ascending
// chunk ID. An empty query or empty index yields an empty result, not
// an error.
func (s *SparseIndex) Search(ctx context.Context, query string, k int) ([]types.ScoredCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := s.snapshot()
	if k <= 0 || len(snap.chunks) == 0 {
		return nil, nil
	}
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	n := float64(len(snap.chunks))
	scores := make(map[string]float64)
	for _, term := range terms {
		postings := snap.postings[term]
		if len(postings) == 0 {
			continue
		}
		df := float64(len(postings))
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)
		for id, tf := range postings {
			freq := float64(tf)
			dl := float64(snap.docLen[id])
			norm := freq * (s.k1 + 1) / (freq + s.k1*(1-s.b+s.b*dl/snap.avgLen))
			scores[id] += idf * norm
		}
	}

	results := make([]types.ScoredCandidate, 0, len(scores))
	for id, score := range scores {
		results = append(results, types.ScoredCandidate{
			ChunkID: id,
			Score:   score,
			Method:  types.MethodSparse,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ChunkID < results[j].ChunkID
		}
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Resolve returns the indexed chunk with the given ID.
func (s *SparseIndex) Resolve(id string) (types.Chunk, bool) {
	c, ok := s.snapshot().chunks[id]
	return c, ok
}

// Count returns the number of indexed chunks.
func (s *SparseIndex) Count() int {
	return len(s.snapshot().chunks)
}

// Terms returns the vocabulary size of the current snapshot.
func (s *SparseIndex) Terms() int {
	return len(s.snapshot().postings)
}

// tokenize lowercases text and splits it into index terms. Letters,
// digits and underscores always belong to a term; hyphens and dots are
// kept only when joining two such characters, so "10-K" and "U.S."
// survive as single terms while surrounding punctuation is stripped.
// The same tokenizer runs at index and query time.
func tokenize(text string) []string {
	runes := []rune(strings.ToLower(text))
	isWord := func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
	}

	var terms []string
	var b strings.Builder
	for i, r := range runes {
		switch {
		case isWord(r):
			b.WriteRune(r)
		case (r == '-' || r == '.') && b.Len() > 0 && i+1 < len(runes) && isWord(runes[i+1]):
			b.WriteRune(r)
		default:
			if b.Len() > 0 {
				terms = append(terms, b.String())
				b.Reset()
			}
		}
	}
	if b.Len() > 0 {
		terms = append(terms, b.String())
	}
	return terms
}
