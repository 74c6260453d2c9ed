package types

// RetrievalMethod identifies which index produced a candidate.
type RetrievalMethod string

const (
	MethodSparse RetrievalMethod = "sparse"
	MethodDense  RetrievalMethod = "dense"
)

// Chunk is the unit of retrieval: a contiguous span of a source document
// carrying enough provenance to cite it. Chunks are immutable once
// indexed; re-ingesting a source produces chunks with the same IDs, which
// overwrite the old ones.
type Chunk struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Source     string            `json:"source"`
	Section    string            `json:"section,omitempty"`
	TokenCount int               `json:"token_count,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ScoredCandidate is a chunk reference scored by one retrieval method.
// Scores are only comparable between candidates of the same method,
// which is why fusion works on ranks rather than raw scores.
type ScoredCandidate struct {
	ChunkID string          `json:"chunk_id"`
	Score   float64         `json:"score"`
	Method  RetrievalMethod `json:"method"`
}
