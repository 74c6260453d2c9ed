package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/finargo/corpusbank/rag/interfaces"
	"github.com/finargo/corpusbank/rag/types"
)

const denseMaxRetries = 3

// DenseIndex fronts a vector store with the validation and retry policy
// dense retrieval needs. Every vector crossing the boundary is checked
// against the configured dimensionality; transient store failures are
// retried with exponential backoff, while dimension and payload errors
// fail immediately.
type DenseIndex struct {
	store      interfaces.VectorStore
	dims       int
	maxRetries uint64
	initialGap time.Duration
}

// NewDenseIndex wraps the store for vectors of the given
// dimensionality.
func NewDenseIndex(store interfaces.VectorStore, dims int) *DenseIndex {
	return &DenseIndex{
		store:      store,
		dims:       dims,
		maxRetries: denseMaxRetries,
		initialGap: 100 * time.Millisecond,
	}
}

// Dimensions returns the vector size the index accepts.
func (d *DenseIndex) Dimensions() int { return d.dims }

// Upsert validates and writes chunk vectors, keyed by chunk ID so
// re-ingestion overwrites rather than duplicates.
func (d *DenseIndex) Upsert(ctx context.Context, chunks []types.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks with %d vectors", types.ErrInvalidEmbedding, len(chunks), len(vectors))
	}
	for i, vec := range vectors {
		if err := d.validate(vec); err != nil {
			return fmt.Errorf("chunk %s: %w", chunks[i].ID, err)
		}
	}

	op := func() error {
		return retryableOnly(d.store.Upsert(ctx, chunks, vectors))
	}
	if err := backoff.Retry(op, d.retryPolicy(ctx)); err != nil {
		return fmt.Errorf("failed to upsert %d vectors: %w", len(vectors), err)
	}
	return nil
}

// Search returns up to k candidates nearest to the query vector, with
// similarities mapped from cosine [-1, 1] to [0, 1].
func (d *DenseIndex) Search(ctx context.Context, vector []float32, k int) ([]types.ScoredCandidate, error) {
	if err := d.validate(vector); err != nil {
		return nil, fmt.Errorf("query vector: %w", err)
	}
	if k <= 0 {
		return nil, nil
	}

	var raw []types.ScoredCandidate
	op := func() error {
		var err error
		raw, err = d.store.Query(ctx, vector, k)
		return retryableOnly(err)
	}
	if err := backoff.Retry(op, d.retryPolicy(ctx)); err != nil {
		return nil, fmt.Errorf("dense search failed: %w", err)
	}

	candidates := make([]types.ScoredCandidate, 0, len(raw))
	for _, c := range raw {
		score, err := normalizeSimilarity(c.Score)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", c.ChunkID, err)
		}
		candidates = append(candidates, types.ScoredCandidate{
			ChunkID: c.ChunkID,
			Score:   score,
			Method:  types.MethodDense,
		})
	}
	return candidates, nil
}

// Delete removes the given chunk IDs from the store.
func (d *DenseIndex) Delete(ctx context.Context, ids []string) error {
	return d.store.Delete(ctx, ids)
}

// Reset drops every vector in the store.
func (d *DenseIndex) Reset(ctx context.Context) error {
	return d.store.Reset(ctx)
}

// Count returns the number of stored vectors.
func (d *DenseIndex) Count(ctx context.Context) (int, error) {
	return d.store.Count(ctx)
}

func (d *DenseIndex) validate(vec []float32) error {
	if len(vec) != d.dims {
		return fmt.Errorf("%w: got %d dimensions, index expects %d", types.ErrDimensionMismatch, len(vec), d.dims)
	}
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite component", types.ErrInvalidEmbedding)
		}
	}
	return nil
}

func (d *DenseIndex) retryPolicy(ctx context.Context) backoff.BackOff {
	return newRetryPolicy(ctx, d.initialGap, d.maxRetries)
}

func newRetryPolicy(ctx context.Context, initial time.Duration, maxRetries uint64) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = 2 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx)
}

// retryableOnly lets upstream-unavailable errors through for another
// attempt and marks everything else permanent.
func retryableOnly(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, types.ErrUpstreamUnavailable) {
		return err
	}
	return backoff.Permanent(err)
}

// normalizeSimilarity maps raw cosine similarity from [-1, 1] to
// [0, 1]. Scores outside the valid range mean the backend returned a
// malformed payload.
func normalizeSimilarity(s float64) (float64, error) {
	const eps = 1e-6
	if math.IsNaN(s) || s < -1-eps || s > 1+eps {
		return 0, fmt.Errorf("%w: similarity %v out of range", types.ErrInvalidEmbedding, s)
	}
	s = math.Min(1, math.Max(-1, s))
	return (s + 1) / 2, nil
}
