// Package client provides the HTTP client the harvester talks to the grid
// API and its image host with. It adds request pacing, a Redis-shared
// remote rate limit gate, a Redis response cache with conditional
// revalidation, error classification and bounded retries on top of
// net/http.
//
// Redis is optional: without it the client still paces and retries, but
// neither caches responses nor shares rate limit state.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/grid-harvester/pkg/cache"
	"github.com/Sternrassler/grid-harvester/pkg/ratelimit"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_http_requests_total",
		Help: "HTTP requests by kind and status",
	}, []string{"kind", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by kind",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"kind"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_http_errors_total",
		Help: "HTTP errors by class",
	}, []string{"class"})
)

// Request kinds used as metric labels.
const (
	kindPage   = "page"
	kindStream = "stream"
)

// Config holds the client configuration.
type Config struct {
	// UserAgent is sent with every request.
	UserAgent string

	// Redis enables the response cache and the shared rate limit tracker.
	// Nil disables both.
	Redis *redis.Client

	// RequestsPerSecond paces requests of this process. Zero means no limit.
	RequestsPerSecond float64
	Burst             int

	// Retry controls how failed requests are retried.
	Retry RetryConfig

	// Timeout bounds a whole request including reading the body. Zero
	// means no limit.
	Timeout time.Duration

	// CacheTTL is the lifetime of cached responses that announce none.
	CacheTTL time.Duration

	// CacheRetain keeps revalidatable entries this long past their expiry.
	CacheRetain time.Duration

	// RateLimit configures the shared rate limit thresholds.
	RateLimit ratelimit.TrackerConfig

	// HTTPClient replaces the default transport client (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns the default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent:   userAgent,
		Burst:       1,
		Retry:       DefaultRetryConfig(),
		CacheTTL:    cache.DefaultTTL,
		CacheRetain: 24 * time.Hour,
		RateLimit:   ratelimit.DefaultTrackerConfig(),
	}
}

// Client performs paced, gated, cached and retried GET requests.
type Client struct {
	httpClient *http.Client
	pacer      *ratelimit.Pacer
	tracker    *ratelimit.Tracker
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// New creates a client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests per second must be >= 0 (got %v)", cfg.RequestsPerSecond)
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		httpClient: httpClient,
		pacer:      ratelimit.NewPacer(cfg.RequestsPerSecond, cfg.Burst),
		config:     cfg,
		logger:     logger,
	}
	if cfg.Redis != nil {
		c.tracker = ratelimit.NewTracker(cfg.Redis, cfg.RateLimit, logger)
		c.cache = cache.NewManager(cfg.Redis)
	}
	return c, nil
}

// Get fetches url through the response cache. Non-2xx answers that are not
// retried are returned as responses for the caller to inspect.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, kindPage, c.cache != nil)
}

// Stream fetches url bypassing the response cache, for large bodies the
// caller streams elsewhere.
func (c *Client) Stream(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req, kindStream, false)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// do orchestrates one logical request.
func (c *Client) do(req *http.Request, kind string, useCache bool) (*http.Response, error) {
	ctx := req.Context()
	host := req.URL.Host
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	// Step 1: Serve fresh cache entries without touching the network.
	var (
		cacheKey cache.Key
		cached   *cache.Entry
	)
	if useCache {
		cacheKey = cache.KeyFromURL(req.URL)
		entry, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			requestsTotal.WithLabelValues(kind, "cache").Inc()
			c.logger.Debug().Str("url", req.URL.String()).Msg("Served from cache")
			return entry.Response(req), nil
		case errors.Is(err, cache.ErrCacheMiss):
			cached = entry
		default:
			c.logger.Warn().Err(err).Str("url", req.URL.String()).Msg("Cache get error")
		}
		if cache.CanRevalidate(cached) {
			cache.AddConditionalHeaders(req, cached)
		}
	}

	// Step 2: Pace locally and check the shared remote budget.
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
	}
	if c.tracker != nil {
		wait, err := c.tracker.Allow(ctx, host)
		switch {
		case errors.Is(err, ratelimit.ErrBudgetExhausted):
			requestsTotal.WithLabelValues(kind, "rate_limited").Inc()
			return nil, fmt.Errorf("%w: %s budget resets in %s", ErrRateLimited, host, wait.Round(time.Second))
		case err != nil && ctx.Err() != nil:
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		case err != nil:
			return nil, fmt.Errorf("rate limit check: %w", err)
		}
	}

	req.Header.Set("User-Agent", c.config.UserAgent)

	// Step 3: Execute with retries.
	var resp *http.Response
	err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() (ErrorClass, error) {
		var reqErr error
		resp, reqErr = c.httpClient.Do(req)
		if reqErr != nil {
			resp = nil
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(kind, "network_error").Inc()
			c.logger.Debug().Err(reqErr).Str("url", req.URL.String()).Msg("HTTP request failed")
			if ctx.Err() != nil {
				// Not retried: the caller gave up.
				return "", reqErr
			}
			return ErrorClassNetwork, reqErr
		}

		if c.tracker != nil {
			if err := c.tracker.UpdateFromHeaders(ctx, host, resp.Header); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
			}
		}

		requestsTotal.WithLabelValues(kind, strconv.Itoa(resp.StatusCode)).Inc()
		class := classifyStatus(resp.StatusCode)
		if class == "" {
			return "", nil
		}
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Debug().
			Str("url", req.URL.String()).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Request error")

		if !shouldRetry(class) {
			// The caller inspects the status.
			return "", nil
		}
		apiErr := &APIError{
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    resp.Status,
		}
		resp.Body.Close()
		resp = nil
		return class, apiErr
	})
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		if ctx.Err() != nil && !errors.Is(err, ErrContextCancelled) {
			return nil, fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
		return nil, err
	}

	// Step 4: Revalidated entries are served from the cache.
	if resp.StatusCode == http.StatusNotModified && cached != nil {
		expires := time.Now().Add(c.config.CacheTTL)
		if refreshed, err := cache.ResponseToEntry(resp, c.config.CacheTTL); err == nil {
			expires = refreshed.Expires
		}
		resp.Body.Close()
		if err := c.cache.Refresh(ctx, cacheKey, cached, expires, c.config.CacheRetain); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to refresh cache entry")
		}
		c.logger.Debug().Str("url", req.URL.String()).Msg("304 Not Modified - using cache")
		return cached.Response(req), nil
	}

	// Step 5: Store successful page responses.
	if useCache && resp.StatusCode == http.StatusOK {
		entry, err := cache.ResponseToEntry(resp, c.config.CacheTTL)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("read response: %w", err)
		}
		if err := c.cache.Set(ctx, cacheKey, entry, c.config.CacheRetain); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		}
	}

	return resp, nil
}
