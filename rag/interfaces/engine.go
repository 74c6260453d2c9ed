package interfaces

import (
	"context"

	"github.com/finargo/corpusbank/rag/types"
)

// SparseSearcher is the lexical side of hybrid retrieval.
type SparseSearcher interface {
	Search(ctx context.Context, query string, k int) ([]types.ScoredCandidate, error)
}

// DenseSearcher is the semantic side of hybrid retrieval. The query is
// embedded by the caller.
type DenseSearcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]types.ScoredCandidate, error)
}

// Embedder turns text into vectors. Implementations must return one
// vector per input, all with Dimensions() components.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Reranker reorders fused candidates by cross-encoder relevance to the
// query, truncated to topN. A types.ErrRerankUnavailable never fails a
// retrieval; the engine keeps the fused order instead.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []types.FusedResult, topN int) ([]types.RerankedResult, error)
}

// ChunkResolver maps chunk IDs back to full chunks. Fusion uses it to
// attach content and provenance to candidates that arrive as bare IDs.
type ChunkResolver interface {
	Resolve(id string) (types.Chunk, bool)
}

// VectorStore is the storage backend behind a dense index: a similarity
// index keyed by chunk ID. Query returns raw cosine similarities in
// [-1, 1]; the dense index maps them to [0, 1] for callers.
type VectorStore interface {
	Upsert(ctx context.Context, chunks []types.Chunk, vectors [][]float32) error
	Query(ctx context.Context, vector []float32, k int) ([]types.ScoredCandidate, error)
	Delete(ctx context.Context, ids []string) error
	Reset(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}
