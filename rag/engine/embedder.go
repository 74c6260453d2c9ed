package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/finargo/corpusbank/rag/types"
	"github.com/sashabaranov/go-openai"
)

const embedBatchSize = 64

// OpenAIEmbedder produces embeddings through an OpenAI-compatible API.
// The model and its dimensionality are configured together; a response
// vector of any other size is rejected, never truncated or padded.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAIEmbedder wraps the client for the given embedding model.
func NewOpenAIEmbedder(client *openai.Client, model string, dims int) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client, model: model, dims: dims}
}

// Dimensions returns the vector size the model is expected to produce.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

// Embed returns one vector per input text, in input order. Large inputs
// are sent in batches.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		batch, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var resp openai.EmbeddingResponse
	op := func() error {
		var err error
		resp, err = e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: texts,
			Model: openai.EmbeddingModel(e.model),
		})
		return retryableOnly(classifyEmbedError(err))
	}
	if err := backoff.Retry(op, newRetryPolicy(ctx, 200*time.Millisecond, 3)); err != nil {
		return nil, fmt.Errorf("failed to embed %d texts: %w", len(texts), err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", types.ErrInvalidEmbedding, len(texts), len(resp.Data))
	}
	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", types.ErrInvalidEmbedding, item.Index)
		}
		if len(item.Embedding) != e.dims {
			return nil, fmt.Errorf("%w: model returned %d dimensions, expected %d", types.ErrDimensionMismatch, len(item.Embedding), e.dims)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// classifyEmbedError maps transient API failures to the retryable
// upstream sentinel. Rate limits and 5xx responses clear on their own;
// everything else reaching us through the SDK as an API error is a
// request problem and retrying would not help.
func classifyEmbedError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}
	// No API response at all means the transport failed.
	return fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
}

func classifyStatus(status int, err error) error {
	if status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
	}
	return err
}
