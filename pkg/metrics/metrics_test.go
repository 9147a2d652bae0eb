package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestGatherer(t *testing.T) {
	if Gatherer != prometheus.DefaultGatherer {
		t.Error("Gatherer should be the default Prometheus gatherer")
	}
}

type pushRecorder struct {
	mu     sync.Mutex
	method string
	path   string
	body   string
}

func (p *pushRecorder) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.method, p.path, p.body = r.Method, r.URL.Path, string(body)
		p.mu.Unlock()
		w.WriteHeader(status)
	}
}

func withGatherer(t *testing.T) {
	t.Helper()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "movies_test_pushed_total",
		Help: "Test counter",
	})
	reg.MustRegister(counter)
	counter.Add(3)

	prev := Gatherer
	Gatherer = reg
	t.Cleanup(func() { Gatherer = prev })
}

func TestPush(t *testing.T) {
	withGatherer(t)

	rec := &pushRecorder{}
	server := httptest.NewServer(rec.handler(http.StatusOK))
	defer server.Close()

	if err := Push(context.Background(), server.URL, "run-1"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.method != http.MethodPut {
		t.Errorf("method = %s, want PUT", rec.method)
	}
	if rec.path != "/metrics/job/movies_etl/run_id/run-1" {
		t.Errorf("path = %s", rec.path)
	}
	if rec.body == "" {
		t.Error("empty push body")
	}
}

func TestPush_GatewayError(t *testing.T) {
	withGatherer(t)

	server := httptest.NewServer((&pushRecorder{}).handler(http.StatusInternalServerError))
	defer server.Close()

	err := Push(context.Background(), server.URL, "")
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "push metrics") {
		t.Errorf("error = %v", err)
	}
}
