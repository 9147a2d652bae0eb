// Package client provides the TMDb HTTP client with request pacing, retry,
// circuit breaking and detail caching.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"

	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/cache"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/movie"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/ratelimit"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/window"
)

// Endpoint labels.
const (
	EndpointDiscover = "discover"
	EndpointMovie    = "movie"
)

// maxBodySize bounds a single response body.
const maxBodySize = 10 << 20

// Prometheus metrics for TMDb client operations.
var (
	tmdbRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tmdb_requests_total",
		Help: "Total TMDb requests by endpoint and status",
	}, []string{"endpoint", "status"})

	tmdbRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tmdb_request_duration_seconds",
		Help:    "TMDb request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	tmdbErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tmdb_errors_total",
		Help: "Total TMDb errors by class",
	}, []string{"class"})

	tmdbCircuitBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tmdb_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
	})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, e.g. https://api.themoviedb.org/3.
	BaseURL string

	// APIKey is either a v3 API key, sent as the api_key query parameter, or a
	// v4 read access token (a JWT), sent as a bearer token.
	APIKey string

	// Language is requested for movie details.
	Language string

	UserAgent string

	// RequestTimeout bounds one HTTP exchange.
	RequestTimeout time.Duration

	Retry     RetryConfig
	RateLimit ratelimit.Config

	// Redis enables the detail cache and the shared rate limit state. Optional.
	Redis *redis.Client

	// DetailCacheTTL is how long detail payloads stay cached.
	DetailCacheTTL time.Duration

	// BreakerFailures is the number of consecutive failures that opens the
	// circuit. BreakerTimeout is how long it stays open.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultConfig returns a default configuration for apiKey.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:         "https://api.themoviedb.org/3",
		APIKey:          apiKey,
		Language:        "en",
		UserAgent:       "movies-etl/1.0",
		RequestTimeout:  10 * time.Second,
		Retry:           DefaultRetryConfig(),
		RateLimit:       ratelimit.DefaultConfig(),
		DetailCacheTTL:  24 * time.Hour,
		BreakerFailures: 10,
		BreakerTimeout:  30 * time.Second,
	}
}

// Client is the TMDb client.
type Client struct {
	httpClient  *http.Client
	rateLimiter *ratelimit.Tracker
	cache       *cache.Manager
	breaker     *gobreaker.CircuitBreaker[[]byte]
	baseURL     *url.URL
	config      Config
	logger      zerolog.Logger
}

// New creates a new TMDb client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 10
	}

	logger := log.With().Str("component", "tmdb-client").Logger()

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		rateLimiter: ratelimit.NewTracker(cfg.RateLimit, cfg.Redis, logger),
		baseURL:     base,
		config:      cfg,
		logger:      logger,
	}
	if cfg.Redis != nil && cfg.DetailCacheTTL > 0 {
		c.cache = cache.NewManager(cfg.Redis, cfg.DetailCacheTTL)
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "tmdb-api",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			tmdbCircuitBreakerState.Set(float64(to))
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state transition")
		},
		// 4xx answers mean the API is up; cancellation is the caller's doing.
		IsSuccessful: func(err error) bool {
			return err == nil || IsClientError(err) || errors.Is(err, context.Canceled)
		},
	})

	return c, nil
}

// DiscoverMovies returns one page of movies released within w, sorted by
// release date ascending.
func (c *Client) DiscoverMovies(ctx context.Context, w window.DateWindow, page int) (*movie.DiscoverPage, error) {
	params := url.Values{}
	params.Set("primary_release_date.gte", w.StartString())
	params.Set("primary_release_date.lte", w.EndString())
	params.Set("sort_by", "release_date.asc")
	params.Set("page", strconv.Itoa(page))

	body, err := c.get(ctx, EndpointDiscover, "discover/movie", params)
	if err != nil {
		return nil, err
	}

	var result movie.DiscoverPage
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode discover page %d: %w", page, err)
	}
	return &result, nil
}

// MovieDetails returns the raw /movie/{id} payload. Payloads are served from
// the detail cache when one is configured.
func (c *Client) MovieDetails(ctx context.Context, id int64) ([]byte, error) {
	key := cache.MovieKey(id, c.config.Language)
	if c.cache != nil {
		entry, err := c.cache.Get(ctx, key)
		if err == nil {
			tmdbRequestsTotal.WithLabelValues(EndpointMovie, "cached").Inc()
			return entry.Data, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Int64("movie_id", id).Msg("Cache get error")
		}
	}

	params := url.Values{}
	if c.config.Language != "" {
		params.Set("language", c.config.Language)
	}
	body, err := c.get(ctx, EndpointMovie, fmt.Sprintf("movie/%d", id), params)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("movie %d: response is not valid JSON", id)
	}

	if c.cache != nil {
		if err := c.cache.Put(ctx, key, body); err != nil {
			c.logger.Warn().Err(err).Int64("movie_id", id).Msg("Failed to cache response")
		}
	}
	return body, nil
}

// get performs a GET with pacing, retry and circuit breaking. params must
// not contain credentials; they are added per request.
func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values) ([]byte, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		var body []byte
		err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
			var err error
			body, err = c.do(ctx, endpoint, path, params)
			return err
		})
		return body, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		tmdbRequestsTotal.WithLabelValues(endpoint, "breaker_open").Inc()
		return nil, fmt.Errorf("tmdb %s: %w", endpoint, err)
	}
	return body, err
}

// do performs a single HTTP exchange.
func (c *Client) do(ctx context.Context, endpoint, path string, params url.Values) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		tmdbRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := c.newRequest(ctx, path, params)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("path", path).
		Str("page", params.Get("page")).
		Msg("Executing TMDb request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		redactURLError(err)
		tmdbErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		tmdbRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &APIError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	if err := c.rateLimiter.UpdateFromResponse(ctx, resp); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update rate limit state")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		tmdbErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	tmdbRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if class := classifyStatus(resp.StatusCode); class != "" {
		tmdbErrorsTotal.WithLabelValues(string(class)).Inc()
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    statusMessage(resp.Status, body),
			RetryAfter: ratelimit.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("TMDb request error")
		return nil, apiErr
	}

	return body, nil
}

func (c *Client) newRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")

	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	bearer := isBearerToken(c.config.APIKey)
	if !bearer {
		query.Set("api_key", c.config.APIKey)
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if bearer {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	return req, nil
}

// isBearerToken reports whether key looks like a v4 read access token.
func isBearerToken(key string) bool {
	return len(key) > 100 && strings.HasPrefix(key, "eyJ")
}

// redactURLError strips the query string from transport errors, which
// otherwise carry the api_key.
func redactURLError(err error) {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if u, perr := url.Parse(urlErr.URL); perr == nil {
			u.RawQuery = ""
			urlErr.URL = u.String()
		} else {
			urlErr.URL = "[redacted]"
		}
	}
}

// statusMessage prefers TMDb's status_message over the HTTP status text.
func statusMessage(status string, body []byte) string {
	var payload struct {
		StatusMessage string `json:"status_message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.StatusMessage != "" {
		return payload.StatusMessage
	}
	return status
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// BreakerState returns the circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}
