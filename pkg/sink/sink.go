// Package sink deduplicates validated records and writes them to the
// destination table through a staging blob.
package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/blob"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/movie"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/staging"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/warehouse"
)

// Stages reported in Error.
const (
	StageSerialize = "serialize"
	StageClean     = "clean"
	StageUpload    = "upload"
	StageDownload  = "download"
	StageTable     = "table"
	StageQuery     = "query"
	StageLoad      = "load"
)

// Error is a sink failure. Sink failures are fatal to the run.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fail(stage string, err error) error {
	sinkFailuresTotal.WithLabelValues(stage).Inc()
	return &Error{Stage: stage, Err: err}
}

var (
	sinkFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movies_sink_failures_total",
		Help: "Sink failures by stage",
	}, []string{"stage"})

	sinkRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movies_sink_records_total",
		Help: "Records seen by the sink by outcome",
	}, []string{"outcome"})
)

// Config holds sink settings.
type Config struct {
	// Bucket is the staging bucket.
	Bucket string

	// MaxBadRecords is the bulk load tolerance.
	MaxBadRecords int

	// LocalDir, when set, also receives the raw and cleaned CSV files.
	LocalDir string
}

// DefaultConfig returns sink defaults.
func DefaultConfig() Config {
	return Config{MaxBadRecords: 1000}
}

// Result summarizes one sink write.
type Result struct {
	Input      int
	Duplicates int
	Existing   int
	Clean      staging.CleanStats
	Staged     int
	Loaded     int64
	BadRecords int64
	StagingURI string
	Duration   time.Duration
}

// Writer writes records into the warehouse.
type Writer struct {
	store     blob.Store
	warehouse warehouse.Warehouse
	config    Config
	logger    zerolog.Logger
}

// NewWriter creates a sink writer.
func NewWriter(store blob.Store, wh warehouse.Warehouse, cfg Config, logger zerolog.Logger) *Writer {
	return &Writer{store: store, warehouse: wh, config: cfg, logger: logger}
}

// BulkLoad replaces the table content with records. The batch is written to
// CSV, cleaned, uploaded to key in the staging bucket and loaded with truncate
// semantics. Rerunning with the same records leaves the same table.
func (w *Writer) BulkLoad(ctx context.Context, records []movie.Record, key string) (*Result, error) {
	start := time.Now()
	res := &Result{Input: len(records)}

	raw, err := staging.EncodeCSV(records)
	if err != nil {
		return nil, fail(StageSerialize, err)
	}
	cleaned, stats, err := staging.CleanBytes(raw)
	if err != nil {
		return nil, fail(StageClean, err)
	}
	res.Clean = stats
	res.Staged = stats.Output
	sinkRecordsTotal.WithLabelValues("incomplete").Add(float64(stats.Incomplete))
	sinkRecordsTotal.WithLabelValues("duplicate").Add(float64(stats.Duplicates))

	if w.config.LocalDir != "" {
		if err := w.writeLocal(key, raw, cleaned); err != nil {
			return nil, fail(StageSerialize, err)
		}
	}

	if err := w.store.Put(ctx, w.config.Bucket, key, cleaned, staging.ContentTypeCSV); err != nil {
		return nil, fail(StageUpload, err)
	}
	res.StagingURI = w.store.URI(w.config.Bucket, key)

	if err := w.warehouse.EnsureTable(ctx); err != nil {
		return nil, fail(StageTable, err)
	}

	opts := warehouse.DefaultCSVLoadOptions()
	opts.MaxBadRecords = w.config.MaxBadRecords
	load, err := w.warehouse.LoadCSV(ctx, w.config.Bucket, key, opts)
	if err != nil {
		return nil, fail(StageLoad, err)
	}
	res.Loaded = load.Rows
	res.BadRecords = load.BadRecords
	res.Duration = time.Since(start)
	sinkRecordsTotal.WithLabelValues("loaded").Add(float64(load.Rows))

	w.logger.Info().
		Str("staging_uri", res.StagingURI).
		Int("input", res.Input).
		Int("incomplete", stats.Incomplete).
		Int("malformed", stats.Malformed).
		Int("duplicates", stats.Duplicates).
		Int64("loaded", res.Loaded).
		Dur("duration", res.Duration).
		Msg("Bulk load completed")
	return res, nil
}

// AppendNew appends the records whose ids are not yet in the table. In-batch
// duplicates keep their first occurrence. An empty result is a successful
// no-op.
func (w *Writer) AppendNew(ctx context.Context, records []movie.Record) (*Result, error) {
	start := time.Now()
	res := &Result{Input: len(records)}

	unique := DedupeByID(records)
	res.Duplicates = len(records) - len(unique)

	if err := w.warehouse.EnsureTable(ctx); err != nil {
		return nil, fail(StageTable, err)
	}
	existing, err := w.warehouse.ExistingIDs(ctx)
	if err != nil {
		return nil, fail(StageQuery, err)
	}

	fresh := FilterNew(unique, existing)
	res.Existing = len(unique) - len(fresh)
	res.Staged = len(fresh)
	sinkRecordsTotal.WithLabelValues("duplicate").Add(float64(res.Duplicates))
	sinkRecordsTotal.WithLabelValues("existing").Add(float64(res.Existing))

	if len(fresh) == 0 {
		res.Duration = time.Since(start)
		w.logger.Info().
			Int("input", res.Input).
			Int("existing", res.Existing).
			Msg("No new records to append")
		return res, nil
	}

	load, err := w.warehouse.AppendRecords(ctx, fresh)
	if err != nil {
		return nil, fail(StageLoad, err)
	}
	res.Loaded = load.Rows
	res.Duration = time.Since(start)
	sinkRecordsTotal.WithLabelValues("loaded").Add(float64(load.Rows))

	w.logger.Info().
		Int("input", res.Input).
		Int("duplicates", res.Duplicates).
		Int("existing", res.Existing).
		Int64("appended", res.Loaded).
		Dur("duration", res.Duration).
		Msg("Append completed")
	return res, nil
}

// Stage uploads an already serialized batch to key in the staging bucket and
// returns its URI.
func (w *Writer) Stage(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := w.store.Put(ctx, w.config.Bucket, key, data, contentType); err != nil {
		return "", fail(StageUpload, err)
	}
	uri := w.store.URI(w.config.Bucket, key)
	w.logger.Info().
		Str("staging_uri", uri).
		Int("bytes", len(data)).
		Msg("Staged batch")
	return uri, nil
}

// Fetch downloads key from the staging bucket. A missing object is reported
// as a download failure wrapping blob.ErrNotFound.
func (w *Writer) Fetch(ctx context.Context, key string) ([]byte, error) {
	data, err := w.store.Get(ctx, w.config.Bucket, key)
	if err != nil {
		return nil, fail(StageDownload, err)
	}
	return data, nil
}

// DedupeByID drops records whose id appeared earlier in the batch.
func DedupeByID(records []movie.Record) []movie.Record {
	seen := make(map[int64]struct{}, len(records))
	out := make([]movie.Record, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// FilterNew keeps the records whose id is not in existing.
func FilterNew(records []movie.Record, existing map[int64]struct{}) []movie.Record {
	out := make([]movie.Record, 0, len(records))
	for _, r := range records {
		if _, ok := existing[r.ID]; !ok {
			out = append(out, r)
		}
	}
	return out
}

func (w *Writer) writeLocal(key string, raw, cleaned []byte) error {
	if err := os.MkdirAll(w.config.LocalDir, 0o755); err != nil {
		return fmt.Errorf("create local dir: %w", err)
	}
	name := filepath.Base(key)
	ext := filepath.Ext(name)
	rawPath := filepath.Join(w.config.LocalDir, name)
	cleanPath := filepath.Join(w.config.LocalDir, name[:len(name)-len(ext)]+"_cleaned"+ext)

	if err := os.WriteFile(rawPath, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rawPath, err)
	}
	if err := os.WriteFile(cleanPath, cleaned, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", cleanPath, err)
	}
	return nil
}
