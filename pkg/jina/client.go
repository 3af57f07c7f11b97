// Package jina provides a client for the Jina AI reader and search API.
package jina

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/resilience"
)

// Client defines the Jina AI Reader operations.
type Client interface {
	// Read fetches a URL via Jina AI Reader. The content is markdown
	// unless WithReturnFormat selects another format.
	Read(ctx context.Context, targetURL string, opts ...ReadOption) (*ReadResponse, error)
	// Search performs a web search via Jina AI Search and returns results.
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
}

// ReadResponse is the parsed Jina API response.
type ReadResponse struct {
	Code int      `json:"code"`
	Data ReadData `json:"data"`
}

// ReadData holds the content from Jina.
type ReadData struct {
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	Content string    `json:"content"`
	HTML    string    `json:"html,omitempty"`
	Usage   ReadUsage `json:"usage"`
}

// Body returns the HTML payload when present, else the content.
func (d ReadData) Body() string {
	if d.HTML != "" {
		return d.HTML
	}
	return d.Content
}

// ReadUsage tracks token consumption.
type ReadUsage struct {
	Tokens int `json:"tokens"`
}

// SearchResponse is the parsed Jina Search API response.
type SearchResponse struct {
	Code int            `json:"code"`
	Data []SearchResult `json:"data"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// SearchOption configures a search request.
type SearchOption func(*searchOpts)

type searchOpts struct {
	siteFilter string
	location   string
}

// WithSiteFilter restricts search results to a specific domain.
func WithSiteFilter(domain string) SearchOption {
	return func(o *searchOpts) {
		o.siteFilter = domain
	}
}

// WithLocation biases results toward a place ("Chicago, IL").
func WithLocation(location string) SearchOption {
	return func(o *searchOpts) {
		o.location = location
	}
}

// ReadOption configures a read request.
type ReadOption func(*readOpts)

type readOpts struct {
	returnFormat string
	proxyURL     string
}

// WithReturnFormat sets X-Return-Format ("markdown", "html", "text").
func WithReturnFormat(format string) ReadOption {
	return func(o *readOpts) {
		o.returnFormat = format
	}
}

// WithProxy routes the upstream fetch through the given proxy.
func WithProxy(proxyURL string) ReadOption {
	return func(o *readOpts) {
		o.proxyURL = proxyURL
	}
}

// Option configures the Jina client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithSearchBaseURL sets a custom search base URL (for testing).
func WithSearchBaseURL(url string) Option {
	return func(c *httpClient) {
		c.searchBaseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry overrides the retry policy for 429 and 5xx responses.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey        string
	baseURL       string
	searchBaseURL string
	http          *http.Client
	retry         resilience.RetryConfig
}

// NewClient creates a new Jina AI Reader client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:        apiKey,
		baseURL:       "https://r.jina.ai",
		searchBaseURL: "https://s.jina.ai",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rawResponse struct {
	status int
	body   []byte
}

// do executes req, retrying transient statuses under the client's retry
// policy. The last response is returned once attempts run out so callers
// can report its status.
func (c *httpClient) do(ctx context.Context, req *http.Request) (rawResponse, error) {
	var last rawResponse
	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (rawResponse, error) {
		r, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			return rawResponse{}, resilience.NewTransientError(eris.Wrap(err, "jina: http"), 0)
		}
		defer func() { _ = r.Body.Close() }()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			return rawResponse{}, eris.Wrap(err, "jina: read response body")
		}
		last = rawResponse{status: r.StatusCode, body: body}
		if resilience.IsTransientHTTPStatus(r.StatusCode) {
			return rawResponse{}, resilience.NewTransientError(
				eris.Errorf("jina: status %d: %s", r.StatusCode, string(body)), r.StatusCode)
		}
		return last, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return rawResponse{}, ctx.Err()
		}
		if last.status != 0 {
			return last, nil
		}
		return rawResponse{}, err
	}
	return resp, nil
}

func (c *httpClient) Read(ctx context.Context, targetURL string, opts ...ReadOption) (*ReadResponse, error) {
	ro := &readOpts{returnFormat: "markdown"}
	for _, opt := range opts {
		opt(ro)
	}

	reqURL := fmt.Sprintf("%s/%s", c.baseURL, targetURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create request")
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Return-Format", ro.returnFormat)
	if ro.proxyURL != "" {
		req.Header.Set("X-Proxy-Url", ro.proxyURL)
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "jina: request failed")
	}

	if resp.status != http.StatusOK {
		statusErr := eris.Errorf("jina: unexpected status %d: %s", resp.status, string(resp.body))
		if resilience.IsTransientHTTPStatus(resp.status) {
			return nil, resilience.NewTransientError(statusErr, resp.status)
		}
		return nil, statusErr
	}

	var result ReadResponse
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal response")
	}

	return &result, nil
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	so := &searchOpts{}
	for _, opt := range opts {
		opt(so)
	}

	if so.location != "" {
		query += " " + so.location
	}
	reqURL := fmt.Sprintf("%s/%s", c.searchBaseURL, url.QueryEscape(query))

	if so.siteFilter != "" {
		reqURL += "?site=" + url.QueryEscape(so.siteFilter)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, eris.Wrap(err, "jina: create search request")
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "jina: search request failed")
	}

	// Jina returns 422 when no results are available for the query.
	if resp.status == http.StatusUnprocessableEntity {
		return &SearchResponse{Code: 422}, nil
	}

	if resp.status != http.StatusOK {
		return nil, eris.Errorf("jina: search unexpected status %d: %s", resp.status, string(resp.body))
	}

	var result SearchResponse
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return nil, eris.Wrap(err, "jina: unmarshal search response")
	}

	return &result, nil
}
