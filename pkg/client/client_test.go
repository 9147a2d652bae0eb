package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/internal/testutil"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/window"
)

const testAPIKey = "test-key-0123456789"

// setupTestRedis creates a test Redis client.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func testConfig(baseURL string) Config {
	cfg := DefaultConfig(testAPIKey)
	cfg.BaseURL = baseURL
	cfg.RequestTimeout = 2 * time.Second
	cfg.Retry = RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        20 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
	cfg.RateLimit.RequestsPerSecond = 1000
	cfg.RateLimit.Burst = 100
	return cfg
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func testWindow(t *testing.T, start, end string) window.DateWindow {
	t.Helper()
	s, err := window.ParseDate(start)
	if err != nil {
		t.Fatal(err)
	}
	e, err := window.ParseDate(end)
	if err != nil {
		t.Fatal(err)
	}
	return window.DateWindow{Start: s, End: e}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config",
			config: DefaultConfig(testAPIKey),
		},
		{
			name:        "missing api key",
			config:      DefaultConfig(""),
			expectError: true,
			errorMsg:    "api key is required",
		},
		{
			name: "missing base url",
			config: func() Config {
				cfg := DefaultConfig(testAPIKey)
				cfg.BaseURL = ""
				return cfg
			}(),
			expectError: true,
			errorMsg:    "base url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if c.cache != nil {
				t.Error("cache must be disabled without redis")
			}
			c.Close()
		})
	}
}

func TestDiscoverMovies(t *testing.T) {
	mock := testutil.NewMockTMDB()
	defer mock.Close()
	mock.PageSize = 2
	mock.AddMovie(1, "2024-01-05", testutil.MovieJSON(1, "First", "2024-01-05"))
	mock.AddMovie(2, "2024-01-02", testutil.MovieJSON(2, "Second", "2024-01-02"))
	mock.AddMovie(3, "2024-01-20", testutil.MovieJSON(3, "Third", "2024-01-20"))
	mock.AddMovie(4, "2024-02-01", testutil.MovieJSON(4, "Outside", "2024-02-01"))

	c := newTestClient(t, testConfig(mock.URL()))
	w := testWindow(t, "2024-01-01", "2024-01-31")

	page, err := c.DiscoverMovies(context.Background(), w, 1)
	if err != nil {
		t.Fatalf("DiscoverMovies() error = %v", err)
	}
	if page.TotalPages != 2 {
		t.Errorf("TotalPages = %d, want 2", page.TotalPages)
	}
	if len(page.Results) != 2 || page.Results[0].ID != 2 || page.Results[1].ID != 1 {
		t.Errorf("Results = %+v, want ids [2 1]", page.Results)
	}

	q := mock.LastQuery
	if q.Get("primary_release_date.gte") != "2024-01-01" || q.Get("primary_release_date.lte") != "2024-01-31" {
		t.Errorf("date filters = %s..%s", q.Get("primary_release_date.gte"), q.Get("primary_release_date.lte"))
	}
	if q.Get("sort_by") != "release_date.asc" {
		t.Errorf("sort_by = %q", q.Get("sort_by"))
	}
	if q.Get("api_key") != testAPIKey {
		t.Errorf("api_key query = %q, want %q", q.Get("api_key"), testAPIKey)
	}
	if mock.LastHeader.Get("Authorization") != "" {
		t.Error("Authorization header set for a v3 key")
	}

	page, err = c.DiscoverMovies(context.Background(), w, 2)
	if err != nil {
		t.Fatalf("DiscoverMovies(page 2) error = %v", err)
	}
	if len(page.Results) != 1 || page.Results[0].ID != 3 {
		t.Errorf("page 2 Results = %+v, want id 3", page.Results)
	}
}

func TestBearerToken(t *testing.T) {
	mock := testutil.NewMockTMDB()
	defer mock.Close()

	token := "eyJ" + strings.Repeat("a", 120)
	cfg := testConfig(mock.URL())
	cfg.APIKey = token
	c := newTestClient(t, cfg)

	if _, err := c.DiscoverMovies(context.Background(), testWindow(t, "2024-01-01", "2024-01-31"), 1); err != nil {
		t.Fatalf("DiscoverMovies() error = %v", err)
	}
	if got := mock.LastHeader.Get("Authorization"); got != "Bearer "+token {
		t.Errorf("Authorization = %q", got)
	}
	if mock.LastQuery.Has("api_key") {
		t.Error("api_key query parameter sent alongside bearer token")
	}
}

func TestMovieDetails(t *testing.T) {
	mock := testutil.NewMockTMDB()
	defer mock.Close()
	mock.AddMovie(42, "2024-03-01", testutil.MovieJSON(42, "Answer", "2024-03-01"))

	c := newTestClient(t, testConfig(mock.URL()))

	body, err := c.MovieDetails(context.Background(), 42)
	if err != nil {
		t.Fatalf("MovieDetails() error = %v", err)
	}
	if !strings.Contains(string(body), `"title":"Answer"`) {
		t.Errorf("unexpected body: %s", body)
	}
	if mock.LastQuery.Get("language") != "en" {
		t.Errorf("language = %q, want en", mock.LastQuery.Get("language"))
	}

	_, err = c.MovieDetails(context.Background(), 404)
	if !IsClientError(err) {
		t.Fatalf("MovieDetails(missing) error = %v, want client error", err)
	}
	if got := mock.GetPathCount("/movie/404"); got != 1 {
		t.Errorf("404 requested %d times, want 1 (no retry)", got)
	}
}

func TestRetryOnServerError(t *testing.T) {
	mock := testutil.NewMockTMDB()
	defer mock.Close()

	var calls atomic.Int32
	mock.SetHandler("/movie/7", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(testutil.MovieJSON(7, "Seven", "2024-01-07")))
	})

	c := newTestClient(t, testConfig(mock.URL()))

	if _, err := c.MovieDetails(context.Background(), 7); err != nil {
		t.Fatalf("MovieDetails() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestRetryExhausted(t *testing.T) {
	mock := testutil.NewMockTMDB()
	defer mock.Close()
	mock.SetResponse("/movie/9", testutil.NewServerErrorResponse())

	c := newTestClient(t, testConfig(mock.URL()))

	_, err := c.MovieDetails(context.Background(), 9)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("error = %v, want ErrRetryExhausted", err)
	}
	if !strings.Contains(err.Error(), "Internal error") {
		t.Errorf("status_message not surfaced: %v", err)
	}
	if got := mock.GetPathCount("/movie/9"); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
}

func TestRateLimitRetryAfter(t *testing.T) {
	mock := testutil.NewMockTMDB()
	defer mock.Close()

	var calls atomic.Int32
	limited := testutil.NewRateLimitResponse("1")
	mock.SetHandler("/movie/5", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			for k, v := range limited.Headers {
				w.Header().Set(k, v)
			}
			w.WriteHeader(limited.StatusCode)
			w.Write([]byte(limited.Body))
			return
		}
		w.Write([]byte(testutil.MovieJSON(5, "Five", "2024-01-05")))
	})

	c := newTestClient(t, testConfig(mock.URL()))

	start := time.Now()
	if _, err := c.MovieDetails(context.Background(), 5); err != nil {
		t.Fatalf("MovieDetails() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("retried after %v, want Retry-After honoured", elapsed)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestUnauthorizedNotRetried(t *testing.T) {
	mock := testutil.NewMockTMDB()
	defer mock.Close()
	mock.SetResponse("/discover/movie", testutil.NewUnauthorizedResponse())

	c := newTestClient(t, testConfig(mock.URL()))

	_, err := c.DiscoverMovies(context.Background(), testWindow(t, "2024-01-01", "2024-01-31"), 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.ErrorClass != ErrorClassClient {
		t.Errorf("APIError = %+v", apiErr)
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
	if strings.Contains(err.Error(), testAPIKey) {
		t.Errorf("error leaks api key: %v", err)
	}
}

func TestNonSuccessStatusIsError(t *testing.T) {
	mock := testutil.NewMockTMDB()
	defer mock.Close()
	mock.SetResponse("/movie/42", testutil.MockResponse{StatusCode: http.StatusNotModified})

	c := newTestClient(t, testConfig(mock.URL()))

	body, err := c.MovieDetails(context.Background(), 42)
	if body != nil {
		t.Errorf("body = %q, want nil", body)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotModified || apiErr.ErrorClass != ErrorClassClient {
		t.Errorf("APIError = %+v", apiErr)
	}
	if got := mock.GetPathCount("/movie/42"); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestNetworkErrorRedactsKey(t *testing.T) {
	mock := testutil.NewMockTMDB()
	baseURL := mock.URL()
	mock.Close()

	cfg := testConfig(baseURL)
	cfg.Retry.MaxAttempts = 1
	c := newTestClient(t, cfg)

	_, err := c.MovieDetails(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error from closed server")
	}
	if ClassOf(err) != ErrorClassNetwork {
		t.Errorf("class = %q, want network", ClassOf(err))
	}
	if strings.Contains(err.Error(), testAPIKey) {
		t.Errorf("error leaks api key: %v", err)
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	mock := testutil.NewMockTMDB()
	defer mock.Close()
	mock.SetResponse("/movie/1", testutil.NewServerErrorResponse())

	cfg := testConfig(mock.URL())
	cfg.Retry.MaxAttempts = 1
	cfg.BreakerFailures = 2
	cfg.BreakerTimeout = time.Minute
	c := newTestClient(t, cfg)

	for range 2 {
		c.MovieDetails(context.Background(), 1)
	}
	if c.BreakerState() != gobreaker.StateOpen {
		t.Fatalf("breaker state = %s, want open", c.BreakerState())
	}

	before := mock.GetRequestCount()
	_, err := c.MovieDetails(context.Background(), 1)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("error = %v, want ErrOpenState", err)
	}
	if mock.GetRequestCount() != before {
		t.Error("request sent while breaker open")
	}
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	mock := testutil.NewMockTMDB()
	defer mock.Close()

	cfg := testConfig(mock.URL())
	cfg.BreakerFailures = 2
	c := newTestClient(t, cfg)

	for range 5 {
		c.MovieDetails(context.Background(), 999)
	}
	if c.BreakerState() != gobreaker.StateClosed {
		t.Errorf("breaker state = %s, want closed", c.BreakerState())
	}
}

func TestMovieDetails_Cache(t *testing.T) {
	redisClient := setupTestRedis(t)

	mock := testutil.NewMockTMDB()
	defer mock.Close()
	mock.AddMovie(11, "2024-01-11", testutil.MovieJSON(11, "Eleven", "2024-01-11"))

	cfg := testConfig(mock.URL())
	cfg.Redis = redisClient
	cfg.DetailCacheTTL = time.Minute
	c := newTestClient(t, cfg)

	first, err := c.MovieDetails(context.Background(), 11)
	if err != nil {
		t.Fatalf("first MovieDetails() error = %v", err)
	}
	second, err := c.MovieDetails(context.Background(), 11)
	if err != nil {
		t.Fatalf("second MovieDetails() error = %v", err)
	}
	if string(first) != string(second) {
		t.Error("cached payload differs from fetched payload")
	}
	if got := mock.GetPathCount("/movie/11"); got != 1 {
		t.Errorf("upstream requests = %d, want 1", got)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestSetHTTPClient(t *testing.T) {
	mock := testutil.NewMockTMDB()
	defer mock.Close()
	mock.AddMovie(7, "2024-01-05", testutil.MovieJSON(7, "Heat", "2024-01-05"))

	c := newTestClient(t, testConfig(mock.URL()))

	var calls atomic.Int32
	c.SetHTTPClient(&http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return http.DefaultTransport.RoundTrip(r)
	})})

	if _, err := c.MovieDetails(context.Background(), 7); err != nil {
		t.Fatalf("MovieDetails() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("custom transport calls = %d, want 1", calls.Load())
	}
}
