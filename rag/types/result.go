package types

// FusedResult is a chunk after rank fusion of the sparse and dense
// candidate lists. Results are unique per chunk ID and ordered by
// descending fusion score, ties broken by ascending chunk ID.
type FusedResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`

	// SparseRank and DenseRank are the 1-based positions the chunk held
	// in each pre-fusion list, 0 when that list did not contain it.
	SparseRank int `json:"sparse_rank,omitempty"`
	DenseRank  int `json:"dense_rank,omitempty"`
}

// RerankedResult is a fused result after the cross-encoder pass. It is
// assembled per query and never persisted.
type RerankedResult struct {
	FusedResult

	// Relevance is the cross-encoder score, or the fusion score when the
	// reranker was unavailable and the fused order was kept.
	Relevance float64 `json:"relevance"`

	// Position is the final 1-based rank handed to the caller.
	Position int `json:"position"`
}
