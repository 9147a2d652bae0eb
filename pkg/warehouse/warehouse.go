// Package warehouse loads staged movie data into the destination analytical
// table. Two backends are provided: BigQuery and an embedded DuckDB database.
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/movie"
)

// ColumnType is a destination column type.
type ColumnType string

// Column types of the destination schema.
const (
	Integer ColumnType = "INTEGER"
	String  ColumnType = "STRING"
	Float   ColumnType = "FLOAT"
	Date    ColumnType = "DATE"
)

// Column is one destination column.
type Column struct {
	Name string
	Type ColumnType
}

// MovieSchema is the destination table schema, in staging file column order.
var MovieSchema = []Column{
	{"id", Integer},
	{"title", String},
	{"overview", String},
	{"release_date", Date},
	{"runtime", String},
	{"genres", String},
	{"production_companies", String},
	{"budget", Integer},
	{"revenue", Integer},
	{"popularity", Float},
	{"vote_average", Float},
	{"vote_count", Integer},
	{"status", String},
	{"poster_path", String},
	{"backdrop_path", String},
	{"language", String},
}

// WriteMode selects what a load does with existing table content.
type WriteMode string

const (
	// WriteTruncate replaces the table content.
	WriteTruncate WriteMode = "truncate"
	// WriteAppend adds rows to the existing content.
	WriteAppend WriteMode = "append"
)

// LoadOptions configures a CSV load.
type LoadOptions struct {
	Mode WriteMode

	// SkipLeadingRows is the number of header rows to ignore.
	SkipLeadingRows int

	// MaxBadRecords is how many unparseable rows are skipped before the
	// load fails as a whole.
	MaxBadRecords int

	// AllowJaggedRows treats missing trailing columns as null.
	AllowJaggedRows bool
}

// DefaultCSVLoadOptions returns the bulk load settings: truncate, one header
// row, up to 1000 bad records, jagged rows allowed.
func DefaultCSVLoadOptions() LoadOptions {
	return LoadOptions{
		Mode:            WriteTruncate,
		SkipLeadingRows: 1,
		MaxBadRecords:   1000,
		AllowJaggedRows: true,
	}
}

// LoadResult summarizes a completed load.
type LoadResult struct {
	Rows       int64
	BadRecords int64
}

// TableRef identifies the destination table.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

// String implements fmt.Stringer.
func (t TableRef) String() string {
	if t.Project == "" {
		return t.Dataset + "." + t.Table
	}
	return t.Project + "." + t.Dataset + "." + t.Table
}

var identifierRX = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks that dataset and table are plain identifiers.
func (t TableRef) Validate() error {
	if !identifierRX.MatchString(t.Dataset) {
		return fmt.Errorf("invalid dataset name %q", t.Dataset)
	}
	if !identifierRX.MatchString(t.Table) {
		return fmt.Errorf("invalid table name %q", t.Table)
	}
	return nil
}

// ErrTooManyBadRecords is returned when a load exceeds MaxBadRecords.
var ErrTooManyBadRecords = errors.New("too many bad records")

// Warehouse is the destination table.
type Warehouse interface {
	// EnsureTable creates the destination table with MovieSchema if missing.
	EnsureTable(ctx context.Context) error

	// ExistingIDs returns the set of ids already present in the table.
	ExistingIDs(ctx context.Context) (map[int64]struct{}, error)

	// LoadCSV loads a staged CSV object from bucket/key.
	LoadCSV(ctx context.Context, bucket, key string, opts LoadOptions) (LoadResult, error)

	// AppendRecords appends records to the table.
	AppendRecords(ctx context.Context, records []movie.Record) (LoadResult, error)

	Close() error
}

var (
	rowsLoadedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movies_warehouse_rows_loaded_total",
		Help: "Rows written to the destination table by backend and write mode",
	}, []string{"backend", "mode"})

	badRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movies_warehouse_bad_records_total",
		Help: "Rows skipped by load jobs as malformed",
	}, []string{"backend"})

	loadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "movies_warehouse_load_duration_seconds",
		Help:    "Duration of load jobs",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"backend", "mode"})
)
