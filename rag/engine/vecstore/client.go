package vecstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/finargo/corpusbank/rag/types"
)

// Client talks to a remote vector-store service over its JSON API:
// upsert, query, delete and reset on named collections. Transport
// failures, timeouts and 5xx responses surface as
// types.ErrUpstreamUnavailable so callers can retry; responses that do
// not parse surface as types.ErrInvalidEmbedding and are not worth
// retrying.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client for the service at baseURL. The API key is
// optional; when set it is sent as a bearer token.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Item is one vector record keyed by chunk ID.
type Item struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Match is one query hit. Score is the raw cosine similarity reported
// by the service, in [-1, 1].
type Match struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

type upsertRequest struct {
	Collection string `json:"collection"`
	Items      []Item `json:"items"`
}

type queryRequest struct {
	Collection string    `json:"collection"`
	Vector     []float32 `json:"vector"`
	TopK       int       `json:"top_k"`
}

type queryResponse struct {
	Matches []Match `json:"matches"`
}

type deleteRequest struct {
	Collection string   `json:"collection"`
	IDs        []string `json:"ids"`
}

type resetRequest struct {
	Collection string `json:"collection"`
}

type countResponse struct {
	Count int `json:"count"`
}

// Upsert writes items into the collection, overwriting existing IDs.
func (c *Client) Upsert(ctx context.Context, collection string, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	return c.post(ctx, "/v1/vectors/upsert", upsertRequest{Collection: collection, Items: items}, nil)
}

// Query returns the topK nearest items to the given vector.
func (c *Client) Query(ctx context.Context, collection string, vector []float32, topK int) ([]Match, error) {
	var resp queryResponse
	err := c.post(ctx, "/v1/vectors/query", queryRequest{Collection: collection, Vector: vector, TopK: topK}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

// Delete removes the given IDs from the collection.
func (c *Client) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.post(ctx, "/v1/vectors/delete", deleteRequest{Collection: collection, IDs: ids}, nil)
}

// Reset drops every item in the collection.
func (c *Client) Reset(ctx context.Context, collection string) error {
	return c.post(ctx, "/v1/vectors/reset", resetRequest{Collection: collection}, nil)
}

// Count returns the number of items in the collection.
func (c *Client) Count(ctx context.Context, collection string) (int, error) {
	endpoint := c.baseURL + "/v1/vectors/count?collection=" + url.QueryEscape(collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build count request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return 0, err
	}

	var out countResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("%w: malformed count response: %v", types.ErrInvalidEmbedding, err)
	}
	return out.Count, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return err
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: malformed response: %v", types.ErrInvalidEmbedding, err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: vector store returned status %d", types.ErrUpstreamUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("vector store returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	default:
		return nil
	}
}
