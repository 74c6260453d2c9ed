package types

import "errors"

// Retrieval error taxonomy. Wrap with fmt.Errorf("...: %w", err) on the
// way up, classify with errors.Is at the call site.
var (
	// ErrUpstreamUnavailable marks transient upstream failures such as
	// refused connections, timeouts and 5xx responses. Safe to retry.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrInvalidEmbedding marks malformed vector payloads. Not retryable.
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrDimensionMismatch marks vectors whose dimensionality does not
	// match the index. Not retryable; vectors are never truncated or
	// padded to fit.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrRerankUnavailable marks reranker failures. Never fatal: the
	// engine falls back to the fused order.
	ErrRerankUnavailable = errors.New("reranker unavailable")
)
