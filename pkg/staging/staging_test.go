package staging

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/movie"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/window"
)

func completeRecord(id int64, title string) movie.Record {
	return movie.Record{
		ID:                  id,
		Title:               title,
		Overview:            "An overview, with a comma",
		ReleaseDate:         "2024-01-20",
		Runtime:             "101 minutes",
		Genres:              []string{"Drama", "Comedy"},
		ProductionCompanies: []string{"Studio Canal"},
		Budget:              1000,
		Revenue:             2000,
		Popularity:          1.5,
		VoteAverage:         6.4,
		VoteCount:           12,
		Status:              "Released",
		PosterURL:           "https://image.tmdb.org/t/p/w500/a.jpg",
		BackdropURL:         "https://image.tmdb.org/t/p/w500/b.jpg",
		Language:            "En",
	}
}

func TestKeys(t *testing.T) {
	w := window.DateWindow{
		Start: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"csv", CSVKey("", w), "movies_2024-12-01_to_2024-12-31.csv"},
		{"csv with prefix", CSVKey("staging/", w), "staging/movies_2024-12-01_to_2024-12-31.csv"},
		{"json", JSONKey("", w), "movies_data_2024-12-01_to_2024-12-31.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("key = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestWriteCSV(t *testing.T) {
	data, err := EncodeCSV([]movie.Record{completeRecord(1, "Heat")})
	if err != nil {
		t.Fatalf("EncodeCSV() error = %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), data)
	}
	if lines[0] != strings.Join(movie.Columns, ",") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], `"An overview, with a comma"`) {
		t.Errorf("overview not quoted: %q", lines[1])
	}
	if !strings.Contains(lines[1], `"Drama, Comedy"`) {
		t.Errorf("genres not joined: %q", lines[1])
	}
}

func TestClean_DropsIncompleteRows(t *testing.T) {
	full := completeRecord(1, "Heat")
	noRuntime := completeRecord(2, "Alien")
	noRuntime.Runtime = ""
	noGenres := completeRecord(3, "Jaws")
	noGenres.Genres = nil

	raw, err := EncodeCSV([]movie.Record{full, noRuntime, noGenres})
	if err != nil {
		t.Fatalf("EncodeCSV() error = %v", err)
	}

	cleaned, stats, err := CleanBytes(raw)
	if err != nil {
		t.Fatalf("CleanBytes() error = %v", err)
	}

	if stats.Input != 3 || stats.Incomplete != 2 || stats.Output != 1 {
		t.Errorf("stats = %+v, want input 3, incomplete 2, output 1", stats)
	}
	if strings.Contains(string(cleaned), "Alien") || strings.Contains(string(cleaned), "Jaws") {
		t.Errorf("incomplete rows survived cleaning:\n%s", cleaned)
	}
	if !strings.Contains(string(cleaned), "Heat") {
		t.Errorf("complete row dropped:\n%s", cleaned)
	}
}

func TestClean_MalformedAndDuplicateRows(t *testing.T) {
	raw, err := EncodeCSV([]movie.Record{completeRecord(1, "Heat"), completeRecord(1, "Heat"), completeRecord(2, "Up")})
	if err != nil {
		t.Fatalf("EncodeCSV() error = %v", err)
	}
	raw = append(raw, []byte("99,Short Row,only three\n")...)
	raw = append(raw, []byte("100,Bad \"quote,x\n")...)

	cleaned, stats, err := CleanBytes(raw)
	if err != nil {
		t.Fatalf("CleanBytes() error = %v", err)
	}

	if stats.Malformed != 2 {
		t.Errorf("Malformed = %d, want 2", stats.Malformed)
	}
	if stats.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", stats.Duplicates)
	}
	if stats.Output != 2 {
		t.Errorf("Output = %d, want 2", stats.Output)
	}

	sc := bufio.NewScanner(bytes.NewReader(cleaned))
	var n int
	for sc.Scan() {
		n++
	}
	if n != 3 {
		t.Errorf("cleaned file has %d lines, want 3", n)
	}
}

func TestClean_RejectsUnexpectedHeader(t *testing.T) {
	if _, _, err := CleanBytes([]byte("id,name\n1,x\n")); err == nil {
		t.Fatal("CleanBytes() expected error for wrong header")
	}
}

func TestDedupeRows_KeysOnFullContent(t *testing.T) {
	rows := [][]string{
		{"1", "Heat"},
		{"1", "Heat Remastered"},
		{"1", "Heat"},
	}
	kept, dropped := DedupeRows(rows)
	if dropped != 1 || len(kept) != 2 {
		t.Errorf("DedupeRows() kept %d dropped %d, want 2 and 1", len(kept), dropped)
	}
}

func TestDedupeRows_FieldBoundaries(t *testing.T) {
	tests := []struct {
		name string
		rows [][]string
	}{
		{"separator byte in field", [][]string{{"a\x1fb", "c"}, {"a", "b\x1fc"}}},
		{"length-like prefix in field", [][]string{{"1:a", "b"}, {"1", "a1:b"}}},
		{"shifted content", [][]string{{"ab", "c"}, {"a", "bc"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept, dropped := DedupeRows(tt.rows)
			if dropped != 0 || len(kept) != 2 {
				t.Errorf("DedupeRows() kept %d dropped %d, want 2 and 0", len(kept), dropped)
			}
		})
	}
}

func TestEncodeJSONArray(t *testing.T) {
	data, err := EncodeJSONArray([]movie.Payload{
		{ID: 1, Body: []byte(`{"id":1,"title":"Heat"}`)},
		{ID: 2, Body: []byte(`{"id":2,"title":"Up"}`)},
	})
	if err != nil {
		t.Fatalf("EncodeJSONArray() error = %v", err)
	}
	var items []map[string]any
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("output is not a JSON array: %v\n%s", err, data)
	}
	if len(items) != 2 {
		t.Errorf("len(items) = %d, want 2", len(items))
	}

	if _, err := EncodeJSONArray([]movie.Payload{{ID: 3, Body: []byte(`{"id":`)}}); err == nil {
		t.Error("EncodeJSONArray() expected error for invalid payload")
	}
}

func TestEncodeNDJSON(t *testing.T) {
	r := completeRecord(5, "Heat")
	r.Runtime = ""
	data, err := EncodeNDJSON([]movie.Record{r, completeRecord(6, "Up")})
	if err != nil {
		t.Fatalf("EncodeNDJSON() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var row map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &row); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if v, ok := row["runtime"]; !ok || v != nil {
		t.Errorf("runtime = %v, want null", v)
	}
}
