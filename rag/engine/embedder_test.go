package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	. "github.com/finargo/corpusbank/rag/engine"
	"github.com/finargo/corpusbank/rag/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sashabaranov/go-openai"
)

func embeddingClient(baseURL string) *openai.Client {
	config := openai.DefaultConfig("sk-test")
	config.BaseURL = baseURL + "/v1"
	return openai.NewClientWithConfig(config)
}

var _ = Describe("OpenAIEmbedder", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("should return vectors in input order", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/v1/embeddings"))
			// Out-of-order data entries must still land at their index.
			json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"data": []map[string]any{
					{"object": "embedding", "index": 1, "embedding": []float32{0.4, 0.5}},
					{"object": "embedding", "index": 0, "embedding": []float32{0.1, 0.2}},
				},
			})
		}))
		defer server.Close()

		embedder := NewOpenAIEmbedder(embeddingClient(server.URL), "text-embedding-3-large", 2)
		vectors, err := embedder.Embed(ctx, []string{"first text", "second text"})
		Expect(err).ToNot(HaveOccurred())
		Expect(vectors).To(HaveLen(2))
		Expect(vectors[0]).To(Equal([]float32{0.1, 0.2}))
		Expect(vectors[1]).To(Equal([]float32{0.4, 0.5}))
	})

	It("should reject vectors with unexpected dimensionality", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"data": []map[string]any{
					{"object": "embedding", "index": 0, "embedding": []float32{0.1, 0.2, 0.3}},
				},
			})
		}))
		defer server.Close()

		embedder := NewOpenAIEmbedder(embeddingClient(server.URL), "text-embedding-3-large", 2)
		_, err := embedder.Embed(ctx, []string{"some text"})
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, types.ErrDimensionMismatch)).To(BeTrue())
	})

	It("should retry transient server errors", func() {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				http.Error(w, "temporarily overloaded", http.StatusServiceUnavailable)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"data": []map[string]any{
					{"object": "embedding", "index": 0, "embedding": []float32{0.1, 0.2}},
				},
			})
		}))
		defer server.Close()

		embedder := NewOpenAIEmbedder(embeddingClient(server.URL), "text-embedding-3-large", 2)
		vectors, err := embedder.Embed(ctx, []string{"some text"})
		Expect(err).ToNot(HaveOccurred())
		Expect(vectors).To(HaveLen(1))
		Expect(calls.Load()).To(Equal(int32(2)))
	})

	It("should not retry authentication failures", func() {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{
					"message": "invalid api key",
					"type":    "invalid_request_error",
				},
			})
		}))
		defer server.Close()

		embedder := NewOpenAIEmbedder(embeddingClient(server.URL), "text-embedding-3-large", 2)
		_, err := embedder.Embed(ctx, []string{"some text"})
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, types.ErrUpstreamUnavailable)).To(BeFalse())
		Expect(calls.Load()).To(Equal(int32(1)))
	})

	It("should make no request for empty input", func() {
		called := false
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		defer server.Close()

		embedder := NewOpenAIEmbedder(embeddingClient(server.URL), "text-embedding-3-large", 2)
		vectors, err := embedder.Embed(ctx, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(vectors).To(BeEmpty())
		Expect(called).To(BeFalse())
	})

	It("should embed a single query", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"data": []map[string]any{
					{"object": "embedding", "index": 0, "embedding": []float32{0.9, 0.1}},
				},
			})
		}))
		defer server.Close()

		embedder := NewOpenAIEmbedder(embeddingClient(server.URL), "text-embedding-3-large", 2)
		vector, err := embedder.EmbedQuery(ctx, "what is tier 1 capital?")
		Expect(err).ToNot(HaveOccurred())
		Expect(vector).To(Equal([]float32{0.9, 0.1}))
	})
})
