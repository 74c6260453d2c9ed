package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/finargo/corpusbank/rag/interfaces"
	"github.com/finargo/corpusbank/rag/types"
	"github.com/google/uuid"
	"github.com/mudler/xlog"
)

// Default retrieval knobs.
const (
	DefaultTopKSparse = 20
	DefaultTopKDense  = 20
	DefaultRerankTopN = 5

	defaultStageTimeout = 10 * time.Second
)

// RetrievalOptions tune one retrieval call. Zero values fall back to
// the engine's configured defaults.
type RetrievalOptions struct {
	// TopKSparse and TopKDense bound each source's candidate list
	// before fusion; RerankTopN bounds the final result.
	TopKSparse int
	TopKDense  int
	RerankTopN int

	// Per-stage deadlines. SearchTimeout covers the parallel sparse
	// and dense searches individually.
	EmbedTimeout  time.Duration
	SearchTimeout time.Duration
	RerankTimeout time.Duration
}

// HybridSearchEngine answers a query by searching the sparse and dense
// indexes in parallel, fusing the two rankings and narrowing the result
// with the cross-encoder. The engine holds no per-query state; one
// instance serves concurrent queries.
type HybridSearchEngine struct {
	sparse   interfaces.SparseSearcher
	dense    interfaces.DenseSearcher
	embedder interfaces.Embedder
	reranker interfaces.Reranker
	fuser    *Fuser
	defaults RetrievalOptions
}

// NewHybridSearchEngine wires the retrieval pipeline. The reranker may
// be nil, in which case results keep their fusion order.
func NewHybridSearchEngine(
	sparse interfaces.SparseSearcher,
	dense interfaces.DenseSearcher,
	embedder interfaces.Embedder,
	reranker interfaces.Reranker,
	fuser *Fuser,
	defaults RetrievalOptions,
) *HybridSearchEngine {
	return &HybridSearchEngine{
		sparse:   sparse,
		dense:    dense,
		embedder: embedder,
		reranker: reranker,
		fuser:    fuser,
		defaults: defaults,
	}
}

// Retrieve runs the full pipeline for one query. The query is embedded
// first; without a query vector there is no dense side and the call
// fails. The two searches then run concurrently: if exactly one fails,
// retrieval degrades to the surviving source and the failure is logged;
// if both fail, the aggregated error names both causes. An empty corpus
// yields an empty result, not an error.
func (h *HybridSearchEngine) Retrieve(ctx context.Context, query string, opts RetrievalOptions) ([]types.RerankedResult, error) {
	opts = h.options(opts)
	traceID := uuid.NewString()
	started := time.Now()

	embedCtx, cancelEmbed := context.WithTimeout(ctx, opts.EmbedTimeout)
	queryVector, err := h.embedder.EmbedQuery(embedCtx, query)
	cancelEmbed()
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var (
		wg                    sync.WaitGroup
		sparseHits, denseHits []types.ScoredCandidate
		sparseErr, denseErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		sctx, cancel := context.WithTimeout(ctx, opts.SearchTimeout)
		defer cancel()
		sparseHits, sparseErr = h.sparse.Search(sctx, query, opts.TopKSparse)
	}()
	go func() {
		defer wg.Done()
		dctx, cancel := context.WithTimeout(ctx, opts.SearchTimeout)
		defer cancel()
		denseHits, denseErr = h.dense.Search(dctx, queryVector, opts.TopKDense)
	}()
	wg.Wait()

	switch {
	case sparseErr != nil && denseErr != nil:
		return nil, fmt.Errorf("both retrieval sources failed: %w", errors.Join(sparseErr, denseErr))
	case sparseErr != nil:
		sourceFailures.WithLabelValues("sparse").Inc()
		xlog.Warn("Sparse retrieval failed, serving dense-only results", "trace_id", traceID, "error", sparseErr)
	case denseErr != nil:
		sourceFailures.WithLabelValues("dense").Inc()
		xlog.Warn("Dense retrieval failed, serving sparse-only results", "trace_id", traceID, "error", denseErr)
	}

	fused := h.fuser.Fuse(sparseHits, denseHits)
	if len(fused) == 0 {
		return nil, nil
	}

	results := h.rerank(ctx, query, fused, opts, traceID)
	xlog.Debug("Hybrid retrieval complete",
		"trace_id", traceID,
		"sparse_hits", len(sparseHits),
		"dense_hits", len(denseHits),
		"fused", len(fused),
		"returned", len(results),
		"took", time.Since(started).String(),
	)
	return results, nil
}

// rerank applies the cross-encoder and fails open: any reranker error
// keeps the fusion order, truncated to topN, with fusion scores as
// relevance. The result always carries positions 1..N.
func (h *HybridSearchEngine) rerank(ctx context.Context, query string, fused []types.FusedResult, opts RetrievalOptions, traceID string) []types.RerankedResult {
	topN := opts.RerankTopN
	if topN > len(fused) {
		topN = len(fused)
	}

	if h.reranker != nil {
		rctx, cancel := context.WithTimeout(ctx, opts.RerankTimeout)
		defer cancel()

		reranked, err := h.reranker.Rerank(rctx, query, fused, topN)
		if err == nil {
			return reranked
		}
		rerankDegraded.Inc()
		xlog.Warn("Reranker unavailable, keeping fusion order", "trace_id", traceID, "error", err)
	}

	results := make([]types.RerankedResult, 0, topN)
	for i, f := range fused[:topN] {
		results = append(results, types.RerankedResult{
			FusedResult: f,
			Relevance:   f.Score,
			Position:    i + 1,
		})
	}
	return results
}

func (h *HybridSearchEngine) options(o RetrievalOptions) RetrievalOptions {
	merged := h.defaults
	if o.TopKSparse > 0 {
		merged.TopKSparse = o.TopKSparse
	}
	if o.TopKDense > 0 {
		merged.TopKDense = o.TopKDense
	}
	if o.RerankTopN > 0 {
		merged.RerankTopN = o.RerankTopN
	}
	if o.EmbedTimeout > 0 {
		merged.EmbedTimeout = o.EmbedTimeout
	}
	if o.SearchTimeout > 0 {
		merged.SearchTimeout = o.SearchTimeout
	}
	if o.RerankTimeout > 0 {
		merged.RerankTimeout = o.RerankTimeout
	}

	if merged.TopKSparse <= 0 {
		merged.TopKSparse = DefaultTopKSparse
	}
	if merged.TopKDense <= 0 {
		merged.TopKDense = DefaultTopKDense
	}
	if merged.RerankTopN <= 0 {
		merged.RerankTopN = DefaultRerankTopN
	}
	if merged.EmbedTimeout <= 0 {
		merged.EmbedTimeout = defaultStageTimeout
	}
	if merged.SearchTimeout <= 0 {
		merged.SearchTimeout = defaultStageTimeout
	}
	if merged.RerankTimeout <= 0 {
		merged.RerankTimeout = defaultStageTimeout
	}
	return merged
}
