package staging

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/movie"
)

// CleanStats reports what each cleaning pass removed.
type CleanStats struct {
	Input      int
	Malformed  int
	Incomplete int
	Duplicates int
	Output     int
}

// Clean reads a staging CSV from r, applies DropMalformedRows,
// DropIncompleteRows and DedupeRows in that order, and writes the surviving
// rows with the header to w. Rows the CSV reader cannot parse count as
// malformed.
func Clean(r io.Reader, w io.Writer) (CleanStats, error) {
	var stats CleanStats

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return stats, fmt.Errorf("read header: %w", err)
	}
	if !slices.Equal(header, movie.Columns) {
		return stats, fmt.Errorf("unexpected header %q", strings.Join(header, ","))
	}

	var rows [][]string
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		stats.Input++
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			stats.Malformed++
			continue
		}
		if err != nil {
			return stats, fmt.Errorf("read row: %w", err)
		}
		rows = append(rows, row)
	}

	var dropped int
	rows, dropped = DropMalformedRows(rows, len(movie.Columns))
	stats.Malformed += dropped
	rows, stats.Incomplete = DropIncompleteRows(rows)
	rows, stats.Duplicates = DedupeRows(rows)
	stats.Output = len(rows)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return stats, fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return stats, fmt.Errorf("write rows: %w", err)
	}
	return stats, nil
}

// CleanBytes is Clean over in-memory data.
func CleanBytes(data []byte) ([]byte, CleanStats, error) {
	var out bytes.Buffer
	stats, err := Clean(bytes.NewReader(data), &out)
	if err != nil {
		return nil, stats, err
	}
	return out.Bytes(), stats, nil
}

// DropMalformedRows removes rows whose field count differs from columns.
func DropMalformedRows(rows [][]string, columns int) ([][]string, int) {
	kept := rows[:0]
	for _, row := range rows {
		if len(row) == columns {
			kept = append(kept, row)
		}
	}
	return kept, len(rows) - len(kept)
}

// DropIncompleteRows removes every row that has at least one empty field.
// Rows are discarded whole, never repaired.
func DropIncompleteRows(rows [][]string) ([][]string, int) {
	kept := rows[:0]
	for _, row := range rows {
		if !slices.Contains(row, "") {
			kept = append(kept, row)
		}
	}
	return kept, len(rows) - len(kept)
}

// DedupeRows removes rows whose full content equals an earlier row. It keys on
// every field, not on the id; id-based dedup happens in the sink.
func DedupeRows(rows [][]string) ([][]string, int) {
	seen := make(map[string]struct{}, len(rows))
	kept := rows[:0]
	for _, row := range rows {
		key := rowKey(row)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, row)
	}
	return kept, len(rows) - len(kept)
}

// rowKey encodes every field with its length prefix so no field content can
// shift a boundary.
func rowKey(row []string) string {
	var b strings.Builder
	for _, f := range row {
		b.WriteString(strconv.Itoa(len(f)))
		b.WriteByte(':')
		b.WriteString(f)
	}
	return b.String()
}
