// Package websearch queries the Tavily search API for market and competitor
// context that the sales database cannot answer.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sweetline/sales-assistant/pkg/config"
	"github.com/sweetline/sales-assistant/pkg/logging"
)

// Search depths accepted by Tavily.
const (
	DepthBasic    = "basic"
	DepthAdvanced = "advanced"
)

// ErrNotConfigured is returned when no search API key is configured.
var ErrNotConfigured = errors.New("web search is not configured")

// Request describes one search.
type Request struct {
	Query          string
	Depth          string
	IncludeDomains []string
	ExcludeDomains []string
	MaxResults     int
}

// Result is one search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Response holds the hits in rank order and the provider's short answer, if any.
type Response struct {
	Success bool     `json:"success"`
	Results []Result `json:"results"`
	Summary string   `json:"summary,omitempty"`
}

// URLs returns the result URLs in rank order.
func (r *Response) URLs() []string {
	urls := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		urls = append(urls, res.URL)
	}
	return urls
}

// Searcher is the web-search collaborator used by the intent router.
type Searcher interface {
	Search(ctx context.Context, req Request) (*Response, error)
	IsAvailable() bool
}

// TavilyClient implements Searcher against the Tavily REST API.
type TavilyClient struct {
	httpClient *http.Client
	cfg        config.WebSearchConfig
	logger     *zap.Logger
}

// NewTavilyClient creates a client. Request defaults (depth, max results,
// domain lists) come from cfg and can be overridden per request.
func NewTavilyClient(cfg config.WebSearchConfig, logger *zap.Logger) *TavilyClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TavilyClient{
		httpClient: &http.Client{Timeout: timeout},
		cfg:        cfg,
		logger:     logger.Named("websearch"),
	}
}

// IsAvailable returns true when an API key is configured.
func (c *TavilyClient) IsAvailable() bool {
	return c.cfg.IsAvailable()
}

type tavilyRequest struct {
	APIKey         string   `json:"api_key"`
	Query          string   `json:"query"`
	SearchDepth    string   `json:"search_depth"`
	MaxResults     int      `json:"max_results"`
	IncludeAnswer  bool     `json:"include_answer"`
	IncludeDomains []string `json:"include_domains,omitempty"`
	ExcludeDomains []string `json:"exclude_domains,omitempty"`
}

type tavilyResponse struct {
	Answer  string   `json:"answer"`
	Results []Result `json:"results"`
}

// Search runs one query.
func (c *TavilyClient) Search(ctx context.Context, req Request) (*Response, error) {
	if !c.IsAvailable() {
		return nil, ErrNotConfigured
	}
	if req.Query == "" {
		return nil, fmt.Errorf("search query is empty")
	}

	body := tavilyRequest{
		APIKey:         c.cfg.APIKey,
		Query:          req.Query,
		SearchDepth:    req.Depth,
		MaxResults:     req.MaxResults,
		IncludeAnswer:  true,
		IncludeDomains: req.IncludeDomains,
		ExcludeDomains: req.ExcludeDomains,
	}
	if body.SearchDepth == "" {
		body.SearchDepth = c.cfg.SearchDepth
	}
	if body.MaxResults <= 0 {
		body.MaxResults = c.cfg.MaxResults
	}
	if body.IncludeDomains == nil {
		body.IncludeDomains = c.cfg.IncludeDomains
	}
	if body.ExcludeDomains == nil {
		body.ExcludeDomains = c.cfg.ExcludeDomains
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search returned HTTP %d: %s", resp.StatusCode, logging.SanitizeMessage(string(snippet)))
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	c.logger.Info("Web search completed",
		zap.String("query", logging.TruncateString(req.Query, 100)),
		zap.String("depth", body.SearchDepth),
		zap.Int("results", len(decoded.Results)),
		zap.Duration("elapsed", time.Since(start)))

	return &Response{
		Success: true,
		Results: decoded.Results,
		Summary: decoded.Answer,
	}, nil
}

// Ensure TavilyClient implements Searcher at compile time.
var _ Searcher = (*TavilyClient)(nil)
