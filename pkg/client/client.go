// Package client provides the heatmaps API HTTP client with request pacing,
// error classification and metrics.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Prometheus metrics for heatmaps API requests.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heatmap_api_requests_total",
		Help: "Total heatmaps API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heatmap_api_request_duration_seconds",
		Help:    "Heatmaps API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heatmap_api_errors_total",
		Help: "Total heatmaps API errors by class",
	}, []string{"class"})
)

// Endpoint labels used in metrics and errors.
const (
	EndpointGrids        = "grids"
	EndpointDwellDensity = "dwell-density"
)

// DefaultBaseURL is the heatmaps API base including the product prefix.
const DefaultBaseURL = "https://api.swisscom.com/layer/heatmaps/demo"

// maxBodyBytes caps response bodies read into memory.
const maxBodyBytes = 32 << 20

// Config holds the client configuration.
type Config struct {
	// BaseURL of the heatmaps API (default: DefaultBaseURL)
	BaseURL string

	// Version is sent as the scs-version header (REQUIRED by the API)
	Version string

	// UserAgent header
	UserAgent string

	// Timeout bounds every request
	Timeout time.Duration

	// Request pacing across all endpoints
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Version:           "2",
		UserAgent:         "swisscom-heatmap-loader/1.0",
		Timeout:           30 * time.Second,
		RequestsPerSecond: 10,
		Burst:             5,
	}
}

// Client is the heatmaps API client. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	config     Config
	logger     zerolog.Logger
}

// New creates a new heatmaps API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Version == "" {
		return nil, fmt.Errorf("api version is required")
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests_per_second must be >= 0 (got %g)", cfg.RequestsPerSecond)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		config:  cfg,
		logger:  log.With().Str("component", "heatmap-client").Logger(),
	}, nil
}

// get performs an authorized GET and returns the response body of a 2xx
// response. Any other outcome is returned as *UpstreamError.
func (c *Client) get(ctx context.Context, cred *auth.Credential, endpoint, url string) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.networkError(endpoint, "rate limiter wait", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if cred != nil {
		cred.Authorize(req)
	}
	req.Header.Set("scs-version", c.config.Version)
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("url", url).
		Msg("Executing heatmaps request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.networkError(endpoint, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		apiErrorsTotal.WithLabelValues(string(class)).Inc()
		apiRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

		// Drain a little of the body for the log; the API returns JSON error details.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Str("detail", string(detail)).
			Msg("Heatmaps request error")

		return nil, &UpstreamError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.networkError(endpoint, "read body", err)
	}

	apiRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	return body, nil
}

func (c *Client) networkError(endpoint, msg string, err error) error {
	apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
	apiRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()

	ev := c.logger.Warn()
	if errors.Is(err, context.Canceled) {
		ev = c.logger.Debug()
	}
	ev.Err(err).Str("endpoint", endpoint).Msg("Heatmaps request failed")

	return &UpstreamError{
		Endpoint:   endpoint,
		ErrorClass: ErrorClassNetwork,
		Message:    msg,
		Err:        err,
	}
}

func decodeError(endpoint string, err error) error {
	apiErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
	return &UpstreamError{
		Endpoint:   endpoint,
		StatusCode: http.StatusOK,
		ErrorClass: ErrorClassDecode,
		Message:    "decode response",
		Err:        err,
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}
