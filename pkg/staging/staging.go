// Package staging serializes validated records into the intermediate files that
// bridge fetching and the warehouse load, and cleans the bulk CSV before upload.
package staging

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path"

	"github.com/goccy/go-json"

	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/movie"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/window"
)

// Content types used when staging blobs.
const (
	ContentTypeCSV    = "text/csv"
	ContentTypeJSON   = "application/json"
	ContentTypeNDJSON = "application/x-ndjson"
)

// CSVKey returns the object key of the bulk staging file for a date range.
// Keys are deterministic so a retried run overwrites its previous upload.
func CSVKey(prefix string, w window.DateWindow) string {
	return joinKey(prefix, fmt.Sprintf("movies_%s_to_%s.csv", w.StartString(), w.EndString()))
}

// JSONKey returns the object key of the raw JSON export for a date range.
func JSONKey(prefix string, w window.DateWindow) string {
	return joinKey(prefix, fmt.Sprintf("movies_data_%s_to_%s.json", w.StartString(), w.EndString()))
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// WriteCSV writes the header and one row per record.
func WriteCSV(w io.Writer, records []movie.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(movie.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(r.Row()); err != nil {
			return fmt.Errorf("write movie %d: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// EncodeCSV is WriteCSV into a buffer.
func EncodeCSV(records []movie.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeJSONArray renders raw detail payloads as a single JSON array, the
// format of the export file consumed by the ingestion path.
func EncodeJSONArray(payloads []movie.Payload) ([]byte, error) {
	items := make([]json.RawMessage, 0, len(payloads))
	for _, p := range payloads {
		if !json.Valid(p.Body) {
			return nil, fmt.Errorf("movie %d: payload is not valid JSON", p.ID)
		}
		items = append(items, json.RawMessage(p.Body))
	}
	return json.Marshal(items)
}

// EncodeNDJSON renders records as newline-delimited JSON rows.
func EncodeNDJSON(records []movie.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r.JSONRow()); err != nil {
			return nil, fmt.Errorf("encode movie %d: %w", r.ID, err)
		}
	}
	return buf.Bytes(), nil
}
