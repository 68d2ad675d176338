// Package upstream provides the HTTP client for the paginated item API.
//
// Items of a schema are served as JSON arrays from
//
//	GET {base_url}/schemas/{schema}/items?page=N
//
// with the total page count in the X-Pages header. The client fetches all
// pages in parallel, retries transient failures with jittered exponential
// backoff and gates requests on the upstream rate limit headers.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/feedcache/pkg/item"
	"github.com/Sternrassler/feedcache/pkg/pagination"
	"github.com/Sternrassler/feedcache/pkg/ratelimit"
)

// Prometheus metrics for upstream operations.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedcache_upstream_requests_total",
		Help: "Total upstream requests by schema and status",
	}, []string{"schema", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedcache_upstream_request_duration_seconds",
		Help:    "Upstream page request duration in seconds by schema",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"schema"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedcache_upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})

	upstreamRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedcache_upstream_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	upstreamRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feedcache_upstream_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	upstreamRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedcache_upstream_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// HeaderPages carries the total page count.
const HeaderPages = "X-Pages"

// maxPageBytes caps a single page body.
const maxPageBytes = 32 << 20

// Config holds the client configuration.
type Config struct {
	// BaseURL of the item API, e.g. "https://api.example.com/v1".
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout per page request.
	Timeout time.Duration

	// MaxConcurrency is the number of pages fetched in parallel.
	MaxConcurrency int

	// MaxPages caps the page count a response may announce in X-Pages.
	MaxPages int

	// Retry policy for transient failures.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		UserAgent:      "feedcache/1.0",
		Timeout:        15 * time.Second,
		MaxConcurrency: 4,
		MaxPages:       1000,
		Retry:          DefaultRetryConfig(),
	}
}

// Client fetches items from the upstream API.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	pages       *pagination.BatchFetcher
	config      Config
	logger      zerolog.Logger
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig("").Timeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultConfig("").MaxPages
	}

	logger := log.With().Str("component", "upstream").Logger()

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: ratelimit.NewTracker(logger),
		config:      cfg,
		logger:      logger,
	}
	c.pages = pagination.NewBatchFetcher(c, pagination.Config{
		MaxConcurrency: cfg.MaxConcurrency,
		Timeout:        cfg.Timeout,
	})
	return c, nil
}

// FetchItems returns the full current item set of schema.
// Pages are concatenated in page order; duplicates are left to the caller.
func (c *Client) FetchItems(ctx context.Context, schema string) ([]item.Item, error) {
	start := time.Now()

	pages, err := c.pages.FetchAllPages(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("fetch items of %s: %w", schema, err)
	}

	var items []item.Item
	for i, body := range pagination.Ordered(pages) {
		var page []item.Item
		if err := json.Unmarshal(body, &page); err != nil {
			upstreamErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
			return nil, &UpstreamError{
				StatusCode: http.StatusOK,
				ErrorClass: ErrorClassDecode,
				Message:    fmt.Sprintf("decode page %d of %s", i+1, schema),
				Err:        err,
			}
		}
		items = append(items, page...)
	}

	c.logger.Info().
		Str("schema", schema).
		Int("pages", len(pages)).
		Int("items", len(items)).
		Dur("duration", time.Since(start)).
		Msg("Fetched upstream items")

	return items, nil
}

// FetchPage fetches one page of a schema. It implements pagination.PageFetcher.
func (c *Client) FetchPage(ctx context.Context, schema string, page int) ([]byte, int, error) {
	endpoint := c.pageURL(schema, page)

	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(schema).Observe(time.Since(startTime).Seconds())
	}()

	var (
		body       []byte
		totalPages int
	)

	err := retryWithBackoff(ctx, c.config.Retry, func() error {
		allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
		if err != nil {
			return &UpstreamError{ErrorClass: ErrorClassNetwork, Message: "rate limit wait", Err: err}
		}
		if !allowed {
			c.logger.Warn().Str("schema", schema).Msg("Request blocked by rate limiter")
			upstreamRequestsTotal.WithLabelValues(schema, "rate_limited").Inc()
			return &UpstreamError{ErrorClass: ErrorClassRateLimit, Message: "request blocked", Err: ErrRateLimited}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return &UpstreamError{ErrorClass: ErrorClassClient, Message: "create request", Err: err}
		}
		req.Header.Set("User-Agent", c.config.UserAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn().Err(err).Str("schema", schema).Int("page", page).Msg("HTTP request failed")
			upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			upstreamRequestsTotal.WithLabelValues(schema, "network_error").Inc()
			return &UpstreamError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
		}
		defer resp.Body.Close()

		if err := c.rateLimiter.UpdateFromHeaders(resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}

		upstreamRequestsTotal.WithLabelValues(schema, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode >= 400 {
			errClass := classifyStatus(resp.StatusCode)
			upstreamErrorsTotal.WithLabelValues(string(errClass)).Inc()
			c.logger.Warn().
				Str("schema", schema).
				Int("page", page).
				Int("status", resp.StatusCode).
				Str("error_class", string(errClass)).
				Msg("Upstream request error")
			io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			return &UpstreamError{
				StatusCode: resp.StatusCode,
				ErrorClass: errClass,
				Message:    resp.Status,
			}
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		if err != nil {
			return &UpstreamError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
		}

		pages := parsePages(resp.Header.Get(HeaderPages))
		if pages > c.config.MaxPages {
			upstreamErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
			return &UpstreamError{
				StatusCode: resp.StatusCode,
				ErrorClass: ErrorClassDecode,
				Message:    fmt.Sprintf("%s %d exceeds limit of %d pages", HeaderPages, pages, c.config.MaxPages),
			}
		}

		body = data
		totalPages = pages
		return nil
	}, classOf)
	if err != nil {
		return nil, 0, err
	}

	c.logger.Debug().
		Str("schema", schema).
		Int("page", page).
		Int("total_pages", totalPages).
		Msg("Fetched page")

	return body, totalPages, nil
}

func (c *Client) pageURL(schema string, page int) string {
	return fmt.Sprintf("%s/schemas/%s/items?page=%d", c.config.BaseURL, url.PathEscape(schema), page)
}

// parsePages reads X-Pages; a missing or invalid header means one page.
func parsePages(v string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// RateLimiter returns the rate limit tracker.
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
