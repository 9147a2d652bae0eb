// Package testutil provides a mock TMDb server for tests.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// MockResponse defines a canned response for a path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

type mockMovie struct {
	id          int64
	releaseDate string
	body        string
}

// MockTMDB is an in-process TMDb API serving /discover/movie and /movie/{id}
// from the movies registered with AddMovie.
type MockTMDB struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	movies   map[int64]mockMovie

	// PageSize is the number of results per discover page.
	PageSize int

	// MaxPages caps total_pages like the real API's 500 page limit. Zero
	// means no cap.
	MaxPages int

	// Tracking
	RequestCount int
	PathCounts   map[string]int
	LastQuery    url.Values
	LastHeader   http.Header
}

// NewMockTMDB creates and starts a mock server.
func NewMockTMDB() *MockTMDB {
	mock := &MockTMDB{
		handlers:   make(map[string]http.HandlerFunc),
		movies:     make(map[int64]mockMovie),
		PathCounts: make(map[string]int),
		PageSize:   20,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.PathCounts[r.URL.Path]++
		mock.LastQuery = r.URL.Query()
		mock.LastHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the base URL to configure the client with.
func (m *MockTMDB) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockTMDB) Close() {
	m.server.Close()
}

// Reset clears the tracking counters.
func (m *MockTMDB) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.PathCounts = make(map[string]int)
	m.LastQuery = nil
	m.LastHeader = nil
}

// AddMovie registers a movie. body is the /movie/{id} payload.
func (m *MockTMDB) AddMovie(id int64, releaseDate, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movies[id] = mockMovie{id: id, releaseDate: releaseDate, body: body}
}

// SetHandler overrides the handler for a path.
func (m *MockTMDB) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path.
func (m *MockTMDB) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests served.
func (m *MockTMDB) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of requests served for path.
func (m *MockTMDB) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PathCounts[path]
}

func (m *MockTMDB) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json;charset=utf-8")

	switch {
	case r.URL.Path == "/discover/movie":
		m.discover(w, r)
	case strings.HasPrefix(r.URL.Path, "/movie/"):
		m.details(w, r)
	default:
		writeStatus(w, http.StatusNotFound, 34, "The resource you requested could not be found.")
	}
}

func (m *MockTMDB) discover(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	gte, lte := q.Get("primary_release_date.gte"), q.Get("primary_release_date.lte")
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		writeStatus(w, http.StatusBadRequest, 22, "Invalid page: Pages start at 1 and max at 500.")
		return
	}

	m.mu.RLock()
	var matches []mockMovie
	for _, mv := range m.movies {
		if mv.releaseDate >= gte && mv.releaseDate <= lte {
			matches = append(matches, mv)
		}
	}
	pageSize, maxPages := m.PageSize, m.MaxPages
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].releaseDate != matches[j].releaseDate {
			return matches[i].releaseDate < matches[j].releaseDate
		}
		return matches[i].id < matches[j].id
	})

	totalPages := (len(matches) + pageSize - 1) / pageSize
	if maxPages > 0 && totalPages > maxPages {
		totalPages = maxPages
	}

	type summary struct {
		ID          int64  `json:"id"`
		ReleaseDate string `json:"release_date"`
	}
	results := []summary{}
	if start := (page - 1) * pageSize; start < len(matches) {
		end := min(start+pageSize, len(matches))
		for _, mv := range matches[start:end] {
			results = append(results, summary{ID: mv.id, ReleaseDate: mv.releaseDate})
		}
	}

	json.NewEncoder(w).Encode(map[string]any{
		"page":          page,
		"results":       results,
		"total_pages":   totalPages,
		"total_results": len(matches),
	})
}

func (m *MockTMDB) details(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/movie/"), 10, 64)
	if err != nil {
		writeStatus(w, http.StatusNotFound, 34, "The resource you requested could not be found.")
		return
	}

	m.mu.RLock()
	mv, ok := m.movies[id]
	m.mu.RUnlock()
	if !ok {
		writeStatus(w, http.StatusNotFound, 34, "The resource you requested could not be found.")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(mv.body))
}

func writeStatus(w http.ResponseWriter, status, code int, message string) {
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"success":false,"status_code":%d,"status_message":%q}`, code, message)
}

// MovieJSON returns a complete, valid /movie/{id} payload.
func MovieJSON(id int64, title, releaseDate string) string {
	payload := map[string]any{
		"id":                   id,
		"title":                title,
		"overview":             "Overview of " + title,
		"release_date":         releaseDate,
		"runtime":              100 + id%60,
		"genres":               []map[string]any{{"id": 18, "name": "Drama"}},
		"production_companies": []map[string]any{{"id": 1, "name": "Test Studio"}},
		"budget":               1000000,
		"revenue":              2500000,
		"popularity":           12.5,
		"vote_average":         7.1,
		"vote_count":           320,
		"status":               "Released",
		"poster_path":          fmt.Sprintf("/poster%d.jpg", id),
		"backdrop_path":        fmt.Sprintf("/backdrop%d.jpg", id),
		"original_language":    "en",
		"adult":                false,
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"success":false,"status_code":25,"status_message":"Your request count (41) is over the allowed limit of 40."}`,
		Headers: map[string]string{
			"Retry-After":  retryAfter,
			"Content-Type": "application/json;charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"success":false,"status_code":11,"status_message":"Internal error: Something went wrong, contact TMDb."}`,
		Headers:    map[string]string{"Content-Type": "application/json;charset=utf-8"},
	}
}

// NewUnauthorizedResponse creates a 401 response for an invalid API key.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"success":false,"status_code":7,"status_message":"Invalid API key: You must be granted a valid key."}`,
		Headers:    map[string]string{"Content-Type": "application/json;charset=utf-8"},
	}
}
