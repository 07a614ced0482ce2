// Package search provides a Tavily web-search client used for farmer news.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ricemaid/ricemaid/internal/models"
	"github.com/ricemaid/ricemaid/internal/util"
)

// DefaultBaseURL is the Tavily API endpoint.
const DefaultBaseURL = "https://api.tavily.com"

// DefaultMaxResults is how many results a search asks for.
const DefaultMaxResults = 5

// Opts holds configuration options for the search client.
type Opts struct {
	APIKey     string
	BaseURL    string
	MaxResults int
	Client     *http.Client
}

// Option configures the search client.
type Option func(*Opts)

// WithAPIKey overrides the TAVILY_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL overrides the API endpoint, for tests.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithMaxResults overrides the SEARCH_MAX_RESULTS environment variable.
func WithMaxResults(n int) Option {
	return func(o *Opts) { o.MaxResults = n }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.Client = c }
}

// Client calls the Tavily search API.
type Client struct {
	apiKey     string
	baseURL    string
	maxResults int
	http       *http.Client
}

// NewClient initializes a search client. The API key comes from options or
// the TAVILY_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("TAVILY_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("TAVILY_API_KEY not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = util.ParseIntEnv("SEARCH_MAX_RESULTS", DefaultMaxResults)
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{apiKey: cfg.APIKey, baseURL: cfg.BaseURL, maxResults: cfg.MaxResults, http: cfg.Client}, nil
}

type searchRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth"`
	MaxResults  int    `json:"max_results"`
}

type searchResponse struct {
	Results []models.SearchResult `json:"results"`
}

// Search runs a web search and returns the matching results. May return an
// empty slice; callers decide how to present that.
func (c *Client) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	slog.Debug("search.Client.Search: querying", "query", query)
	payload, err := json.Marshal(searchRequest{
		APIKey:      c.apiKey,
		Query:       query,
		SearchDepth: "basic",
		MaxResults:  c.maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("search.Client.Search: request failed", "error", err)
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Error("search.Client.Search: unexpected status", "status", resp.StatusCode)
		return nil, fmt.Errorf("search request: status %d: %s", resp.StatusCode, body)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	slog.Debug("search.Client.Search: results received", "count", len(parsed.Results))
	return parsed.Results, nil
}
