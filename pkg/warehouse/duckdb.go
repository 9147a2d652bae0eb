package warehouse

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog"

	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/blob"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/movie"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/window"
)

// DuckDB is an embedded warehouse. The dataset maps to a schema.
type DuckDB struct {
	db     *sql.DB
	store  blob.Store
	table  TableRef
	logger zerolog.Logger
}

// OpenDuckDB opens the database at path. An empty path or ":memory:" opens an
// in-memory database. Staged objects are read through store.
func OpenDuckDB(path string, table TableRef, store blob.Store, logger zerolog.Logger) (*DuckDB, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path+"?autoinstall_known_extensions=false&autoload_known_extensions=false")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps an in-memory database shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DuckDB{db: db, store: store, table: table, logger: logger}, nil
}

func (d *DuckDB) qualified() string {
	return quoteIdent(d.table.Dataset) + "." + quoteIdent(d.table.Table)
}

// EnsureTable implements Warehouse.
func (d *DuckDB) EnsureTable(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(d.table.Dataset)); err != nil {
		return fmt.Errorf("create schema %s: %w", d.table.Dataset, err)
	}

	defs := make([]string, 0, len(MovieSchema))
	for _, c := range MovieSchema {
		defs = append(defs, quoteIdent(c.Name)+" "+duckType(c.Type))
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.qualified(), strings.Join(defs, ", "))
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", d.table, err)
	}
	return nil
}

// ExistingIDs implements Warehouse.
func (d *DuckDB) ExistingIDs(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT id FROM "+d.qualified()+" WHERE id IS NOT NULL")
	if err != nil {
		return nil, fmt.Errorf("query existing ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// LoadCSV implements Warehouse. Rows that cannot be converted to the schema
// are skipped and counted; the load fails if their number exceeds
// opts.MaxBadRecords. The whole load runs in one transaction, so a failed
// truncate load leaves the previous content in place.
func (d *DuckDB) LoadCSV(ctx context.Context, bucket, key string, opts LoadOptions) (LoadResult, error) {
	start := time.Now()

	data, err := d.store.Get(ctx, bucket, key)
	if err != nil {
		return LoadResult{}, fmt.Errorf("fetch staged file: %w", err)
	}

	rows, bad, err := parseCSV(data, opts)
	if err != nil {
		return LoadResult{}, err
	}
	if bad > int64(opts.MaxBadRecords) {
		return LoadResult{}, fmt.Errorf("%w: %d exceeds limit %d", ErrTooManyBadRecords, bad, opts.MaxBadRecords)
	}

	n, err := d.insert(ctx, rows, opts.Mode)
	if err != nil {
		return LoadResult{}, err
	}

	res := LoadResult{Rows: n, BadRecords: bad}
	d.observe(opts.Mode, res, start)
	d.logger.Info().
		Str("source", d.store.URI(bucket, key)).
		Str("table", d.table.String()).
		Str("mode", string(opts.Mode)).
		Int64("rows", res.Rows).
		Int64("bad_records", res.BadRecords).
		Msg("Loaded CSV into table")
	return res, nil
}

// AppendRecords implements Warehouse.
func (d *DuckDB) AppendRecords(ctx context.Context, records []movie.Record) (LoadResult, error) {
	start := time.Now()

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		row, err := convertRow(r.Row())
		if err != nil {
			return LoadResult{}, fmt.Errorf("movie %d: %w", r.ID, err)
		}
		rows = append(rows, row)
	}

	n, err := d.insert(ctx, rows, WriteAppend)
	if err != nil {
		return LoadResult{}, err
	}

	res := LoadResult{Rows: n}
	d.observe(WriteAppend, res, start)
	return res, nil
}

// Count returns the number of rows in the table.
func (d *DuckDB) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.QueryRowContext(ctx, "SELECT count(*) FROM "+d.qualified()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// Close implements Warehouse.
func (d *DuckDB) Close() error {
	return d.db.Close()
}

func (d *DuckDB) insert(ctx context.Context, rows [][]any, mode WriteMode) (n int64, err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin load: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if mode == WriteTruncate {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+d.qualified()); err != nil {
			return 0, fmt.Errorf("truncate %s: %w", d.table, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, d.insertSQL())
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err = stmt.ExecContext(ctx, row...); err != nil {
			return 0, fmt.Errorf("insert row: %w", err)
		}
		n++
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit load: %w", err)
	}
	return n, nil
}

func (d *DuckDB) insertSQL() string {
	names := make([]string, 0, len(MovieSchema))
	params := make([]string, 0, len(MovieSchema))
	for _, c := range MovieSchema {
		names = append(names, quoteIdent(c.Name))
		if c.Type == Date {
			params = append(params, "CAST(? AS DATE)")
		} else {
			params = append(params, "?")
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.qualified(), strings.Join(names, ", "), strings.Join(params, ", "))
}

func (d *DuckDB) observe(mode WriteMode, res LoadResult, start time.Time) {
	rowsLoadedTotal.WithLabelValues("duckdb", string(mode)).Add(float64(res.Rows))
	badRecordsTotal.WithLabelValues("duckdb").Add(float64(res.BadRecords))
	loadDuration.WithLabelValues("duckdb", string(mode)).Observe(time.Since(start).Seconds())
}

// parseCSV converts staged CSV rows into typed insert arguments, counting the
// rows that do not fit the schema.
func parseCSV(data []byte, opts LoadOptions) (rows [][]any, bad int64, err error) {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1

	for line := 0; ; line++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if line < opts.SkipLeadingRows {
			continue
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			bad++
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read staged file: %w", err)
		}

		if len(fields) < len(MovieSchema) && opts.AllowJaggedRows {
			fields = append(fields, make([]string, len(MovieSchema)-len(fields))...)
		}
		row, err := convertRow(fields)
		if err != nil {
			bad++
			continue
		}
		rows = append(rows, row)
	}
	return rows, bad, nil
}

// convertRow maps text fields to typed values. Empty fields become NULL.
func convertRow(fields []string) ([]any, error) {
	if len(fields) != len(MovieSchema) {
		return nil, fmt.Errorf("expected %d fields, got %d", len(MovieSchema), len(fields))
	}

	row := make([]any, len(fields))
	for i, f := range fields {
		if f == "" {
			row[i] = nil
			continue
		}
		col := MovieSchema[i]
		switch col.Type {
		case Integer:
			v, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col.Name, err)
			}
			row[i] = v
		case Float:
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col.Name, err)
			}
			row[i] = v
		case Date:
			if _, err := window.ParseDate(f); err != nil {
				return nil, fmt.Errorf("column %s: %w", col.Name, err)
			}
			row[i] = f
		default:
			row[i] = f
		}
	}
	return row, nil
}

func duckType(t ColumnType) string {
	switch t {
	case Integer:
		return "BIGINT"
	case Float:
		return "DOUBLE"
	case Date:
		return "DATE"
	default:
		return "VARCHAR"
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
