// Package metrics documents the pipeline's Prometheus metrics and pushes them
// to a Pushgateway at the end of a run.
// Metrics are defined in their respective packages via promauto.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Gatherer is the gatherer pushed by Push. promauto registers every pipeline
// metric with the default registry, which is also the default gatherer.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

// JobName is the Pushgateway job label.
const JobName = "movies_etl"

// Push sends the current value of every registered metric to the Pushgateway
// at url, grouped by run id. Batch runs exit before any scrape, so this is the
// only way their metrics are recorded.
func Push(ctx context.Context, url, runID string) error {
	p := push.New(url, JobName).Gatherer(Gatherer)
	if runID != "" {
		p = p.Grouping("run_id", runID)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

// Metrics Documentation
//
// TMDb Client Metrics (pkg/client):
//   - tmdb_requests_total{endpoint, status} (Counter)
//   - tmdb_request_duration_seconds{endpoint} (Histogram)
//   - tmdb_errors_total{class} (Counter): client, server, rate_limit, network
//   - tmdb_circuit_breaker_state (Gauge): 0=closed, 1=half-open, 2=open
//   - tmdb_retries_total{error_class} (Counter)
//   - tmdb_retry_backoff_seconds{error_class} (Histogram)
//   - tmdb_retry_exhausted_total{error_class} (Counter)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - tmdb_rate_limit_wait_seconds (Histogram): time spent waiting for a token
//   - tmdb_rate_limit_blocks_total (Counter): 429 responses that set a block
//   - tmdb_rate_limit_blocked_seconds (Gauge): length of the latest back-off window
//
// Detail Cache Metrics (pkg/cache):
//   - tmdb_cache_hits_total, tmdb_cache_misses_total (Counter)
//   - tmdb_cache_stored_bytes_total (Counter)
//   - tmdb_cache_errors_total{operation} (Counter)
//
// Fetcher Metrics (pkg/pagination):
//   - movies_fetch_windows_total, movies_fetch_pages_total (Counter)
//   - movies_fetch_payloads_total (Counter)
//   - movies_fetch_failures_total{kind} (Counter): page, detail
//
// Normalizer Metrics (pkg/normalize):
//   - movies_records_normalized_total{path} (Counter): api, json
//   - movies_records_rejected_total{reason} (Counter)
//
// Sink Metrics (pkg/sink, pkg/blob, pkg/warehouse):
//   - movies_sink_records_total{outcome} (Counter)
//   - movies_sink_failures_total{stage} (Counter)
//   - movies_blob_operations_total{backend, operation, status} (Counter)
//   - movies_blob_bytes_total{backend, operation} (Counter)
//   - movies_warehouse_rows_loaded_total{backend, mode} (Counter)
//   - movies_warehouse_bad_records_total{backend} (Counter)
//   - movies_warehouse_load_duration_seconds{backend, mode} (Histogram)
//
// Example Prometheus Queries:
//
//   # Rejection ratio per run
//   sum(movies_records_rejected_total) /
//   (sum(movies_records_rejected_total) + sum(movies_records_normalized_total))
//
//   # Detail cache hit rate
//   sum(rate(tmdb_cache_hits_total[1h])) /
//   (sum(rate(tmdb_cache_hits_total[1h])) + sum(rate(tmdb_cache_misses_total[1h])))
//
//   # P95 TMDb latency
//   histogram_quantile(0.95, rate(tmdb_request_duration_seconds_bucket[5m]))
