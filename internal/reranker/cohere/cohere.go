// Package cohere implements reranker.Reranker over the Cohere-style
// /v1/rerank HTTP API, which Cohere, Jina, Voyage and most self-hosted
// cross-encoder servers expose.
package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/knoguchi/rerank/internal/reranker"
)

// DefaultBaseURL is the Cohere API endpoint.
const DefaultBaseURL = "https://api.cohere.com"

// RerankRequest is the request payload for the rerank endpoint.
type RerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

// RerankResponseResult is a single result in the rerank response. Pointers
// distinguish missing fields from zero values.
type RerankResponseResult struct {
	Index          *int     `json:"index"`
	RelevanceScore *float64 `json:"relevance_score"`
}

// RerankResponse is the response from the rerank endpoint.
type RerankResponse struct {
	ID      string                  `json:"id,omitempty"`
	Results *[]RerankResponseResult `json:"results"`
}

// Client calls a Cohere-compatible rerank endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	timeout    time.Duration
}

// Option is a functional option for configuring Client.
type Option func(*Client)

// WithBaseURL sets the service root; /v1/rerank is appended.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the request timeout. It applies to a copy of the HTTP
// client, whichever order the options come in.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// New creates a client for model.
func New(model string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

// ModelName implements reranker.Reranker.
func (c *Client) ModelName() string {
	return c.model
}

// Rerank implements reranker.Reranker.
func (c *Client) Rerank(ctx context.Context, query string, texts []string, topK int) ([]reranker.Result, error) {
	if len(texts) == 0 {
		return []reranker.Result{}, nil
	}

	payload, err := json.Marshal(RerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: texts,
		TopN:      topK,
	})
	if err != nil {
		return nil, reranker.ServiceError("cohere.Rerank", fmt.Errorf("failed to marshal rerank request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, reranker.Unavailable("cohere.Rerank", fmt.Errorf("failed to create rerank request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, reranker.Unavailable("cohere.Rerank", fmt.Errorf("failed to call rerank endpoint: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, reranker.FromStatus("cohere.Rerank", resp.StatusCode,
			fmt.Errorf("rerank endpoint returned %d: %s", resp.StatusCode, string(body)))
	}

	return DecodeResults("cohere.Rerank", resp.Body)
}

// DecodeResults parses a Cohere rerank response body. A body that is not
// JSON, lacks the results array, or has a result without index or score is
// reported as reranker.ErrRerankService.
func DecodeResults(op string, body io.Reader) ([]reranker.Result, error) {
	var rerankResp RerankResponse
	if err := json.NewDecoder(body).Decode(&rerankResp); err != nil {
		return nil, reranker.ServiceError(op, fmt.Errorf("failed to decode rerank response: %w", err))
	}

	raw := rerankResp.Results
	if raw == nil {
		return nil, reranker.ServiceError(op, fmt.Errorf("response has no results field"))
	}
	results := make([]reranker.Result, len(*raw))
	for i, r := range *raw {
		if r.Index == nil || r.RelevanceScore == nil {
			return nil, reranker.ServiceError(op, fmt.Errorf("result %d is missing index or relevance_score", i))
		}
		results[i] = reranker.Result{Index: *r.Index, Score: *r.RelevanceScore}
	}
	return results, nil
}

var _ reranker.Reranker = (*Client)(nil)
