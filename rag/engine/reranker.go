package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/finargo/corpusbank/rag/types"
)

// Cross-encoder APIs cap the number of documents per request.
const maxRerankDocuments = 1000

// CrossEncoderReranker scores query/document pairs through a
// Cohere-style /v1/rerank endpoint. Every failure surfaces as
// types.ErrRerankUnavailable: reranking refines results, it never
// gates them.
type CrossEncoderReranker struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// NewCrossEncoderReranker creates a reranker client for the service at
// baseURL.
func NewCrossEncoderReranker(baseURL, apiKey, model string) *CrossEncoderReranker {
	if model == "" {
		model = "rerank-english-v3.0"
	}
	return &CrossEncoderReranker{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Rerank sends the candidate contents with the query and returns them
// reordered by cross-encoder relevance, truncated to topN. Asking for
// more results than there are candidates returns all of them ranked.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, candidates []types.FusedResult, topN int) ([]types.RerankedResult, error) {
	if len(candidates) == 0 || topN <= 0 {
		return nil, nil
	}
	if len(candidates) > maxRerankDocuments {
		candidates = candidates[:maxRerankDocuments]
	}
	if topN > len(candidates) {
		topN = len(candidates)
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Chunk.Content
	}

	payload, err := json.Marshal(rerankRequest{
		Query:     query,
		Documents: documents,
		Model:     r.model,
		TopN:      topN,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrRerankUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrRerankUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", types.ErrRerankUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed rerankResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", types.ErrRerankUnavailable, err)
	}

	results := make([]types.RerankedResult, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			return nil, fmt.Errorf("%w: result index %d out of range", types.ErrRerankUnavailable, res.Index)
		}
		results = append(results, types.RerankedResult{
			FusedResult: candidates[res.Index],
			Relevance:   res.RelevanceScore,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})
	if len(results) > topN {
		results = results[:topN]
	}
	for i := range results {
		results[i].Position = i + 1
	}
	return results, nil
}
