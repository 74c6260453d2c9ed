package engine

import (
	"sort"

	"github.com/finargo/corpusbank/rag/interfaces"
	"github.com/finargo/corpusbank/rag/types"
	"github.com/mudler/xlog"
)

// DefaultRRFK is the standard rank-fusion constant. Larger values
// flatten the gap between adjacent ranks.
const DefaultRRFK = 60

// Fuser merges the sparse and dense candidate lists with Reciprocal
// Rank Fusion. Ranks drive the merge rather than raw scores: BM25 and
// cosine similarity live on incomparable scales.
type Fuser struct {
	k       int
	resolve interfaces.ChunkResolver
}

// NewFuser creates a fuser with the given rank constant. Pass 0 to use
// the default.
func NewFuser(k int, resolver interfaces.ChunkResolver) *Fuser {
	if k <= 0 {
		k = DefaultRRFK
	}
	return &Fuser{k: k, resolve: resolver}
}

// Fuse scores each chunk by the sum of 1/(k+rank) over the lists that
// contain it, with rank counted from 1. A chunk in only one list keeps
// its single contribution, so fusing against an empty list preserves
// the surviving list's order. Results come back with resolved chunks,
// descending score, ties broken by ascending chunk ID. Candidates whose
// ID no longer resolves are dropped with a warning.
func (f *Fuser) Fuse(sparse, dense []types.ScoredCandidate) []types.FusedResult {
	type entry struct {
		score      float64
		sparseRank int
		denseRank  int
	}

	entries := make(map[string]*entry, len(sparse)+len(dense))
	for i, c := range sparse {
		rank := i + 1
		e := entries[c.ChunkID]
		if e == nil {
			e = &entry{}
			entries[c.ChunkID] = e
		}
		e.score += 1.0 / float64(f.k+rank)
		e.sparseRank = rank
	}
	for i, c := range dense {
		rank := i + 1
		e := entries[c.ChunkID]
		if e == nil {
			e = &entry{}
			entries[c.ChunkID] = e
		}
		e.score += 1.0 / float64(f.k+rank)
		e.denseRank = rank
	}

	results := make([]types.FusedResult, 0, len(entries))
	for id, e := range entries {
		chunk, ok := f.resolve.Resolve(id)
		if !ok {
			xlog.Warn("Dropping fused candidate with unknown chunk ID", "chunk_id", id)
			continue
		}
		results = append(results, types.FusedResult{
			Chunk:      chunk,
			Score:      e.score,
			SparseRank: e.sparseRank,
			DenseRank:  e.denseRank,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].Chunk.ID < results[j].Chunk.ID
		}
		return results[i].Score > results[j].Score
	})
	return results
}
