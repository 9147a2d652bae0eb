// Package pipeline wires the fetcher, normalizer and sink into the run modes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/internal/config"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/blob"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/logging"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/movie"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/normalize"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/pagination"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/sink"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/staging"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/warehouse"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/window"
)

// ErrUnknownMode is returned by Run for a mode it does not implement.
var ErrUnknownMode = errors.New("unknown run mode")

// Summary describes one run.
type Summary struct {
	RunID string
	Mode  string

	Windows        int
	Pages          int
	Payloads       int
	PageFailures   int
	DetailFailures int

	Accepted int
	Rejected int

	Staged     int
	Loaded     int64
	StagingURI string

	Duration time.Duration
}

func (s *Summary) addFetch(st pagination.Stats) {
	s.Windows += st.Windows
	s.Pages += st.Pages
	s.Payloads += st.Payloads
	s.PageFailures += st.PageFailures
	s.DetailFailures += st.DetailFailures
}

func (s *Summary) addNormalize(st normalize.Stats) {
	s.Accepted += st.Accepted
	s.Rejected += st.Rejected
}

// Runner executes run modes against one configuration.
type Runner struct {
	cfg    *config.Config
	source pagination.Source
	writer *sink.Writer
	runID  string
	logger zerolog.Logger

	closers []func() error
}

// New creates a runner over already constructed dependencies.
func New(cfg *config.Config, source pagination.Source, store blob.Store, wh warehouse.Warehouse, logger zerolog.Logger) *Runner {
	runID := uuid.NewString()
	logger = logging.WithRunID(logger, runID)

	sinkCfg := sink.DefaultConfig()
	sinkCfg.Bucket = cfg.Storage.Bucket
	sinkCfg.MaxBadRecords = cfg.Warehouse.MaxBadRecords
	sinkCfg.LocalDir = cfg.Sink.LocalDir

	return &Runner{
		cfg:    cfg,
		source: source,
		writer: sink.NewWriter(store, wh, sinkCfg, logger.With().Str("component", "sink").Logger()),
		runID:  runID,
		logger: logger,
	}
}

// RunID returns the identifier attached to this runner's logs.
func (r *Runner) RunID() string {
	return r.runID
}

// Close releases the resources opened by Open, in reverse order.
func (r *Runner) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Run executes mode and logs the run summary.
func (r *Runner) Run(ctx context.Context, mode string) (*Summary, error) {
	start := time.Now()
	r.logger.Info().
		Str("mode", mode).
		Str("start_date", r.cfg.StartDate).
		Str("end_date", r.cfg.EndDate).
		Msg("Run started")

	var (
		summary *Summary
		err     error
	)
	switch mode {
	case config.ModeBulk:
		summary, err = r.RunBulk(ctx)
	case config.ModeAppend:
		summary, err = r.RunAppend(ctx)
	case config.ModeExportJSON:
		summary, err = r.ExportJSON(ctx)
	case config.ModeIngestJSON:
		summary, err = r.IngestJSON(ctx, r.ingestKey())
	case config.ModeJSON:
		summary, err = r.ExportJSON(ctx)
		if err == nil {
			var ingested *Summary
			ingested, err = r.IngestJSON(ctx, r.exportKey())
			if ingested != nil {
				summary.Accepted, summary.Rejected = ingested.Accepted, ingested.Rejected
				summary.Loaded = ingested.Loaded
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if summary != nil {
		summary.Mode = mode
		summary.Duration = time.Since(start)
	}
	if err != nil {
		r.logger.Error().Err(err).Str("mode", mode).Msg("Run failed")
		return summary, err
	}

	r.logger.Info().
		Str("mode", mode).
		Int("windows", summary.Windows).
		Int("pages", summary.Pages).
		Int("payloads", summary.Payloads).
		Int("page_failures", summary.PageFailures).
		Int("detail_failures", summary.DetailFailures).
		Int("accepted", summary.Accepted).
		Int("rejected", summary.Rejected).
		Int("staged", summary.Staged).
		Int64("loaded", summary.Loaded).
		Dur("duration", summary.Duration).
		Msg("Run completed")
	return summary, nil
}

// RunBulk fetches the configured range and replaces the table content with
// the cleaned result. A run that fetched no records leaves the table as is.
func (r *Runner) RunBulk(ctx context.Context) (*Summary, error) {
	summary := r.newSummary()
	records, err := r.collect(ctx, summary)
	if err != nil {
		return summary, err
	}
	if len(records) == 0 {
		r.logger.Warn().Msg("No records fetched, skipping bulk load")
		return summary, nil
	}

	res, err := r.writer.BulkLoad(ctx, records, staging.CSVKey(r.cfg.Storage.Prefix, r.span()))
	if err != nil {
		return summary, err
	}
	summary.Staged = res.Staged
	summary.Loaded = res.Loaded
	summary.StagingURI = res.StagingURI
	return summary, nil
}

// RunAppend fetches the configured range and appends the records whose ids
// are not yet in the table.
func (r *Runner) RunAppend(ctx context.Context) (*Summary, error) {
	summary := r.newSummary()
	records, err := r.collect(ctx, summary)
	if err != nil {
		return summary, err
	}

	res, err := r.writer.AppendNew(ctx, records)
	if err != nil {
		return summary, err
	}
	summary.Staged = res.Staged
	summary.Loaded = res.Loaded
	return summary, nil
}

// ExportJSON fetches the configured range and stages the raw detail payloads
// as one JSON array.
func (r *Runner) ExportJSON(ctx context.Context) (*Summary, error) {
	summary := r.newSummary()
	fetcher := r.fetcher()

	var payloads []movie.Payload
	for p := range fetcher.Range(ctx, window.Monthly(r.cfg.Start, r.cfg.End)) {
		payloads = append(payloads, p)
	}
	summary.addFetch(fetcher.Stats())
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("fetch interrupted: %w", err)
	}

	data, err := staging.EncodeJSONArray(payloads)
	if err != nil {
		return summary, &sink.Error{Stage: sink.StageSerialize, Err: err}
	}
	uri, err := r.writer.Stage(ctx, r.exportKey(), data, staging.ContentTypeJSON)
	if err != nil {
		return summary, err
	}
	summary.Staged = len(payloads)
	summary.StagingURI = uri
	return summary, nil
}

// IngestJSON reads the staged JSON document at key, normalizes every element
// and appends the records whose ids are not yet in the table.
func (r *Runner) IngestJSON(ctx context.Context, key string) (*Summary, error) {
	summary := r.newSummary()

	data, err := r.writer.Fetch(ctx, key)
	if err != nil {
		return summary, err
	}
	doc, err := normalize.DecodeDocument(data)
	if err != nil {
		return summary, fmt.Errorf("ingest %s: %w", key, err)
	}

	var items []any
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
	default:
		return summary, fmt.Errorf("ingest %s: expected a JSON array or object, got %T", key, doc)
	}

	norm := r.normalizer()
	records := make([]movie.Record, 0, len(items))
	for _, item := range items {
		rec, err := norm.NormalizeIngested(item)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	summary.addNormalize(norm.Stats())
	r.logger.Info().
		Str("key", key).
		Int("elements", len(items)).
		Int("accepted", len(records)).
		Msg("Ingested JSON document")

	res, err := r.writer.AppendNew(ctx, records)
	if err != nil {
		return summary, err
	}
	summary.Staged = res.Staged
	summary.Loaded = res.Loaded
	return summary, nil
}

// collect fetches and normalizes every movie in the configured range.
func (r *Runner) collect(ctx context.Context, summary *Summary) ([]movie.Record, error) {
	fetcher := r.fetcher()
	norm := r.normalizer()

	var records []movie.Record
	for p := range fetcher.Range(ctx, window.Monthly(r.cfg.Start, r.cfg.End)) {
		rec, err := norm.Normalize(p.Body)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	summary.addFetch(fetcher.Stats())
	summary.addNormalize(norm.Stats())

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch interrupted: %w", err)
	}
	return records, nil
}

func (r *Runner) fetcher() *pagination.Fetcher {
	return pagination.New(r.source, pagination.Config{
		MaxConcurrency: r.cfg.Fetch.MaxConcurrency,
		RequestTimeout: r.cfg.Fetch.RequestTimeout,
		MaxPages:       r.cfg.Fetch.MaxPages,
	}, r.logger.With().Str("component", "fetcher").Logger())
}

func (r *Runner) normalizer() *normalize.Normalizer {
	cfg := normalize.DefaultConfig()
	if r.cfg.TMDB.ImageBaseURL != "" {
		cfg.ImageBaseURL = r.cfg.TMDB.ImageBaseURL
	}
	return normalize.New(cfg, r.logger.With().Str("component", "normalizer").Logger())
}

func (r *Runner) newSummary() *Summary {
	return &Summary{RunID: r.runID}
}

// span is the whole configured range as one window, used to name staged
// objects.
func (r *Runner) span() window.DateWindow {
	return window.DateWindow{Start: r.cfg.Start, End: r.cfg.End}
}

func (r *Runner) exportKey() string {
	return staging.JSONKey(r.cfg.Storage.Prefix, r.span())
}

func (r *Runner) ingestKey() string {
	if r.cfg.IngestFile != "" {
		return r.cfg.IngestFile
	}
	return r.exportKey()
}
