// Package client is a Go client for the corpusbank HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/finargo/corpusbank/rag/types"
)

type Client struct {
	BaseURL string

	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Health reports whether the server answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// CollectionStats summarizes one collection's corpus and indexes.
type CollectionStats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Terms     int `json:"terms"`
	Sources   int `json:"sources"`
}

// Stats is the server-wide ingest summary.
type Stats struct {
	Collections   int                        `json:"collections"`
	Documents     int                        `json:"documents"`
	Chunks        int                        `json:"chunks"`
	PerCollection map[string]CollectionStats `json:"per_collection"`
}

// Stats fetches the server-wide ingest summary.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/stats", nil)
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	if err := c.do(req, &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// CreateCollection creates a new collection.
func (c *Client) CreateCollection(ctx context.Context, name string) error {
	return c.postJSON(ctx, "/api/collections", map[string]string{"name": name}, nil)
}

// ListCollections lists all collections.
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/collections", nil)
	if err != nil {
		return nil, err
	}
	var collections []string
	if err := c.do(req, &collections); err != nil {
		return nil, err
	}
	return collections, nil
}

// ListEntries lists the documents held by a collection.
func (c *Client) ListEntries(ctx context.Context, collection string) ([]string, error) {
	url := fmt.Sprintf("%s/api/collections/%s/entries", c.BaseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var entries []string
	if err := c.do(req, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Store uploads a file into a collection, replacing any previous
// version of the same document.
func (c *Client) Store(ctx context.Context, collection, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/collections/%s/upload", c.BaseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.do(req, nil)
}

// RemoveEntry deletes a document and its chunks from a collection.
func (c *Client) RemoveEntry(ctx context.Context, collection, entry string) error {
	url := fmt.Sprintf("/api/collections/%s/entry", collection)
	return c.sendJSON(ctx, http.MethodDelete, url, map[string]string{"entry": entry}, nil)
}

// Reset drops every document from a collection.
func (c *Client) Reset(ctx context.Context, collection string) error {
	return c.postJSON(ctx, fmt.Sprintf("/api/collections/%s/reset", collection), nil, nil)
}

// Search runs hybrid retrieval and returns the ranked chunks.
func (c *Client) Search(ctx context.Context, collection, query string, topK int) ([]types.RerankedResult, error) {
	payload := map[string]any{"query": query}
	if topK > 0 {
		payload["top_k"] = topK
	}

	var results []types.RerankedResult
	err := c.postJSON(ctx, fmt.Sprintf("/api/collections/%s/search", collection), payload, &results)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Ask runs retrieval and returns a generated answer with citations.
func (c *Client) Ask(ctx context.Context, collection, question string, topK int) (types.Answer, error) {
	payload := map[string]any{"question": question}
	if topK > 0 {
		payload["top_k"] = topK
	}

	var answer types.Answer
	err := c.postJSON(ctx, fmt.Sprintf("/api/collections/%s/query", collection), payload, &answer)
	if err != nil {
		return types.Answer{}, err
	}
	return answer, nil
}

// AddSource registers an external source on a collection.
func (c *Client) AddSource(ctx context.Context, collection, url string, updateInterval time.Duration) error {
	payload := map[string]string{"url": url}
	if updateInterval > 0 {
		payload["update_interval"] = updateInterval.String()
	}
	return c.postJSON(ctx, fmt.Sprintf("/api/collections/%s/sources", collection), payload, nil)
}

// RemoveSource unregisters an external source from a collection.
func (c *Client) RemoveSource(ctx context.Context, collection, url string) error {
	path := fmt.Sprintf("/api/collections/%s/sources", collection)
	return c.sendJSON(ctx, http.MethodDelete, path, map[string]string{"url": url}, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	return c.sendJSON(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
