// Package serp is a thin client for a SerpAPI-compatible search backend.
// The executor's extraction strategies consume the knowledge graph and
// organic result list; everything else in the response is ignored.
package serp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://serpapi.com"

// Client performs web searches.
type Client interface {
	Search(ctx context.Context, query string) (*Results, error)
}

// Results is the subset of the search response the pipeline consumes.
type Results struct {
	KnowledgeGraph *KnowledgeGraph `json:"knowledge_graph,omitempty"`
	Organic        []OrganicResult `json:"organic_results,omitempty"`
}

// KnowledgeGraph is the knowledge-panel block, when the backend returns one.
type KnowledgeGraph struct {
	Title   string `json:"title"`
	Type    string `json:"type,omitempty"`
	Website string `json:"website,omitempty"`
}

// OrganicResult is a single organic search hit.
type OrganicResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a search client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, query string) (*Results, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("engine", "google")
	params.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "serp: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "serp: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "serp: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("serp: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var results Results
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, eris.Wrap(err, "serp: unmarshal response")
	}

	return &results, nil
}
