package warehouse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/movie"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/staging"
)

// BigQuery loads into a BigQuery table. CSV loads read directly from Cloud
// Storage, so the staging store must be GCS.
type BigQuery struct {
	client *bigquery.Client
	table  TableRef
	logger zerolog.Logger
}

// NewBigQuery creates a BigQuery warehouse for table.
func NewBigQuery(ctx context.Context, table TableRef, logger zerolog.Logger, opts ...option.ClientOption) (*BigQuery, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	client, err := bigquery.NewClient(ctx, table.Project, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	return &BigQuery{client: client, table: table, logger: logger}, nil
}

func (b *BigQuery) handle() *bigquery.Table {
	return b.client.Dataset(b.table.Dataset).Table(b.table.Table)
}

// BigQuerySchema converts MovieSchema into a BigQuery schema.
func BigQuerySchema() bigquery.Schema {
	schema := make(bigquery.Schema, 0, len(MovieSchema))
	for _, c := range MovieSchema {
		var t bigquery.FieldType
		switch c.Type {
		case Integer:
			t = bigquery.IntegerFieldType
		case Float:
			t = bigquery.FloatFieldType
		case Date:
			t = bigquery.DateFieldType
		default:
			t = bigquery.StringFieldType
		}
		schema = append(schema, &bigquery.FieldSchema{Name: c.Name, Type: t})
	}
	return schema
}

// EnsureTable implements Warehouse.
func (b *BigQuery) EnsureTable(ctx context.Context) error {
	_, err := b.handle().Metadata(ctx)
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return fmt.Errorf("get table %s: %w", b.table, err)
	}

	if err := b.handle().Create(ctx, &bigquery.TableMetadata{Schema: BigQuerySchema()}); err != nil {
		return fmt.Errorf("create table %s: %w", b.table, err)
	}
	b.logger.Info().Str("table", b.table.String()).Msg("Created table")
	return nil
}

// ExistingIDs implements Warehouse.
func (b *BigQuery) ExistingIDs(ctx context.Context) (map[int64]struct{}, error) {
	q := b.client.Query(fmt.Sprintf("SELECT id FROM `%s.%s.%s` WHERE id IS NOT NULL", b.table.Project, b.table.Dataset, b.table.Table))
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query existing ids: %w", err)
	}

	ids := make(map[int64]struct{})
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read existing ids: %w", err)
		}
		if id, ok := row[0].(int64); ok {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

// LoadCSV implements Warehouse.
func (b *BigQuery) LoadCSV(ctx context.Context, bucket, key string, opts LoadOptions) (LoadResult, error) {
	ref := bigquery.NewGCSReference("gs://" + bucket + "/" + key)
	ref.SourceFormat = bigquery.CSV
	ref.Schema = BigQuerySchema()
	ref.SkipLeadingRows = int64(opts.SkipLeadingRows)
	ref.MaxBadRecords = int64(opts.MaxBadRecords)
	ref.AllowJaggedRows = opts.AllowJaggedRows

	loader := b.handle().LoaderFrom(ref)
	loader.WriteDisposition = disposition(opts.Mode)
	return b.run(ctx, loader, opts.Mode)
}

// AppendRecords implements Warehouse. Records are sent as newline-delimited
// JSON in a single load job.
func (b *BigQuery) AppendRecords(ctx context.Context, records []movie.Record) (LoadResult, error) {
	data, err := staging.EncodeNDJSON(records)
	if err != nil {
		return LoadResult{}, err
	}

	src := bigquery.NewReaderSource(bytes.NewReader(data))
	src.SourceFormat = bigquery.JSON
	src.Schema = BigQuerySchema()

	loader := b.handle().LoaderFrom(src)
	loader.WriteDisposition = bigquery.WriteAppend
	return b.run(ctx, loader, WriteAppend)
}

func (b *BigQuery) run(ctx context.Context, loader *bigquery.Loader, mode WriteMode) (LoadResult, error) {
	start := time.Now()

	job, err := loader.Run(ctx)
	if err != nil {
		return LoadResult{}, fmt.Errorf("start load job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return LoadResult{}, fmt.Errorf("wait for load job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return LoadResult{}, fmt.Errorf("load job %s: %w", job.ID(), err)
	}

	res := loadResult(status.Statistics)

	rowsLoadedTotal.WithLabelValues("bigquery", string(mode)).Add(float64(res.Rows))
	badRecordsTotal.WithLabelValues("bigquery").Add(float64(res.BadRecords))
	loadDuration.WithLabelValues("bigquery", string(mode)).Observe(time.Since(start).Seconds())
	b.logger.Info().
		Str("job_id", job.ID()).
		Str("table", b.table.String()).
		Str("mode", string(mode)).
		Int64("rows", res.Rows).
		Int64("bad_records", res.BadRecords).
		Msg("Load job completed")
	return res, nil
}

// loadResult reads the row counts of a finished load job.
func loadResult(stats *bigquery.JobStatistics) LoadResult {
	if stats == nil {
		return LoadResult{}
	}
	load, ok := stats.Details.(*bigquery.LoadStatistics)
	if !ok || load == nil {
		return LoadResult{}
	}
	return LoadResult{Rows: load.OutputRows, BadRecords: load.BadRecords}
}

// Close implements Warehouse.
func (b *BigQuery) Close() error {
	return b.client.Close()
}

func disposition(mode WriteMode) bigquery.TableWriteDisposition {
	if mode == WriteTruncate {
		return bigquery.WriteTruncate
	}
	return bigquery.WriteAppend
}
