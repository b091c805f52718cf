// Package dhus implements catalog.Catalog against a Copernicus Data Hub
// Software endpoint: OpenSearch for queries and OData for product status and
// archive downloads.
package dhus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"s2batch/internal/catalog"
	s2errors "s2batch/internal/errors"
	"s2batch/internal/httpclient"
	"s2batch/internal/logging"
	"s2batch/internal/observability"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultBaseURL is the hub the acquisition scripts historically used.
	DefaultBaseURL = "https://scihub.copernicus.eu/apihub/"

	defaultPageSize     = 100
	defaultCallTimeout  = time.Minute
	defaultCacheSize    = 128
	defaultCacheTTL     = 5 * time.Minute
	maxErrorBodyBytes   = 4 << 10
	maxSearchPageBytes  = 32 << 20
	maxProductDocBytes  = 1 << 20
	defaultRequestsRate = 2.0
)

// Config configures a hub client.
type Config struct {
	BaseURL  string
	Username string
	Password string

	// PageSize is the OpenSearch rows parameter.
	PageSize int
	// CallTimeout bounds query and status calls.
	CallTimeout time.Duration
	// DownloadTimeout bounds one archive transfer. Zero means unbounded.
	DownloadTimeout time.Duration
	// RequestsPerSecond throttles all hub calls. Zero uses the default; negative disables.
	RequestsPerSecond float64
	Burst             int

	Retry   s2errors.RetryConfig
	Breaker s2errors.CircuitBreakerConfig

	// CacheSize bounds the search page cache. Negative disables caching.
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultConfig returns a config pointed at DefaultBaseURL.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		PageSize:          defaultPageSize,
		CallTimeout:       defaultCallTimeout,
		DownloadTimeout:   2 * time.Hour,
		RequestsPerSecond: defaultRequestsRate,
		Burst:             2,
		Retry:             s2errors.DefaultRetryConfig(),
		Breaker:           s2errors.DefaultCircuitBreakerConfig(),
		CacheSize:         defaultCacheSize,
		CacheTTL:          defaultCacheTTL,
	}
}

// Client talks to one hub. It is safe for concurrent use.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
	metrics    *observability.MetricsCollector
	catMetrics *observability.CatalogMetrics
	tracer     *observability.TracerProvider
	pages      *lru.Cache[string, cachedPage]
	now        func() time.Time
}

var _ catalog.Catalog = (*Client)(nil)

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport stack. Throttling and the circuit
// breaker are not applied to a caller-supplied client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(logger) }
}

// WithMetrics records request counts and latency.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithCatalogMetrics records cache, throttle and breaker activity.
func WithCatalogMetrics(m *observability.CatalogMetrics) Option {
	return func(c *Client) { c.catMetrics = m }
}

// WithTracer wraps hub calls in spans.
func WithTracer(tp *observability.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp }
}

// New builds a client. Zero-valued config fields fall back to DefaultConfig.
func New(cfg Config, opts ...Option) (*Client, error) {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
		if cfg.Burst <= 0 {
			cfg.Burst = def.Burst
		}
	}
	if cfg.Retry.MaxAttempts == 0 && cfg.Retry.BaseDelay == 0 {
		cfg.Retry = def.Retry
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker = def.Breaker
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}

	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/") + "/",
		logger:  logging.NewComponentLogger("dhus"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		hc := httpclient.New(0, c.logger)
		transport := httpclient.WrapTransportWithCircuitBreaker(hc.Transport, "dhus", cfg.Breaker)
		transport = httpclient.WrapTransportWithRateLimit(transport, cfg.RequestsPerSecond, cfg.Burst, func(wait time.Duration) {
			c.catMetrics.ObserveThrottleWait(wait.Seconds())
		})
		hc.Transport = transport
		c.httpClient = hc
	}

	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, cachedPage](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("dhus: page cache: %w", err)
		}
		c.pages = cache
	}
	return c, nil
}

// get issues an authenticated GET. Non-2xx responses are closed and mapped
// to classified errors; 202 is returned to the caller.
func (c *Client) get(ctx context.Context, op, rawURL string) (*http.Response, error) {
	ctx, span := c.tracer.StartSpan(ctx, observability.SpanCatalogRequest)
	span.SetAttributes(observability.CatalogOpAttrs(op)...)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		observability.EndSpan(span, err)
		return nil, fmt.Errorf("dhus: build %s request: %w", op, err)
	}
	if c.cfg.Username != "" || c.cfg.Password != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	req.Header.Set("Accept", "application/json")

	start := c.now()
	resp, err := c.httpClient.Do(req)
	latency := c.now().Sub(start)
	if err != nil {
		if errors.Is(err, s2errors.ErrCircuitOpen) {
			c.catMetrics.RecordBreakerRejection()
		}
		c.metrics.RecordCatalogRequest(ctx, op, 0, latency)
		observability.EndSpan(span, err)
		return nil, fmt.Errorf("dhus: %s: %w", op, err)
	}
	c.metrics.RecordCatalogRequest(ctx, op, resp.StatusCode, latency)
	c.logger.Debug("%s %s -> %d (%v)", op, redactURL(rawURL), resp.StatusCode, latency)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		observability.EndSpan(span, nil)
		return resp, nil
	}

	defer resp.Body.Close()
	body := httpclient.ReadPrefix(resp.Body, maxErrorBodyBytes)
	err = mapStatus(op, resp, body)
	observability.EndSpan(span, err)
	return nil, err
}

func mapStatus(op string, resp *http.Response, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	detail := fmt.Errorf("dhus: %s: http status %d: %s", op, resp.StatusCode, snippet)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &s2errors.PermanentError{
			Err:        fmt.Errorf("%w: %w", catalog.ErrUnauthorized, detail),
			StatusCode: resp.StatusCode,
		}
	case http.StatusNotFound:
		return &s2errors.PermanentError{
			Err:        fmt.Errorf("%w: %w", catalog.ErrNotFound, detail),
			StatusCode: resp.StatusCode,
		}
	}
	retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
	return s2errors.FromHTTPStatus(resp.StatusCode, retryAfter, detail)
}

func (c *Client) withCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

func redactURL(raw string) string {
	if i := strings.Index(raw, "?"); i >= 0 {
		return raw[:i]
	}
	return raw
}
