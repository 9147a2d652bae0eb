package normalize

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/movie"
)

// DecodeDocument decodes a JSON document into a generic value tree, keeping
// numbers as json.Number so large ids and budgets stay exact.
func DecodeDocument(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return v, nil
}

// StripField removes field from every object in the tree rooted at v, at any
// nesting depth, including objects inside arrays inside objects. The walk is
// depth-first with an explicit stack, so arbitrarily deep documents cannot
// exhaust the goroutine stack. The tree is modified in place and returned.
func StripField(v any, field string) any {
	stack := []any{v}
	for len(stack) > 0 {
		last := len(stack) - 1
		node := stack[last]
		stack = stack[:last]

		switch n := node.(type) {
		case map[string]any:
			delete(n, field)
			for _, child := range n {
				if isContainer(child) {
					stack = append(stack, child)
				}
			}
		case []any:
			for _, child := range n {
				if isContainer(child) {
					stack = append(stack, child)
				}
			}
		}
	}
	return v
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

// NormalizeIngested maps one element of an ingested JSON document into a
// record. The configured field is stripped first; id, title and release_date
// must be present and non-empty. Unlike Normalize, runtime is always
// formatted, so a missing runtime becomes "0 minutes".
func (n *Normalizer) NormalizeIngested(v any) (movie.Record, error) {
	StripField(v, n.config.StripField)

	obj, ok := v.(map[string]any)
	if !ok {
		return movie.Record{}, n.reject(0, "shape", fmt.Errorf("%w: expected object, got %T", ErrRejected, v))
	}

	id, _ := toInt64(obj["id"])
	title, _ := obj["title"].(string)
	releaseDate, _ := obj["release_date"].(string)
	if id == 0 || title == "" || releaseDate == "" {
		return movie.Record{}, n.reject(id, "required", fmt.Errorf("%w: id, title and release_date are required", ErrRejected))
	}

	runtime, _ := toInt64(obj["runtime"])
	budget, _ := toInt64(obj["budget"])
	revenue, _ := toInt64(obj["revenue"])
	voteCount, _ := toInt64(obj["vote_count"])
	popularity, _ := toFloat64(obj["popularity"])
	voteAverage, _ := toFloat64(obj["vote_average"])
	overview, _ := obj["overview"].(string)
	status, _ := obj["status"].(string)
	poster, _ := obj["poster_path"].(string)
	backdrop, _ := obj["backdrop_path"].(string)

	var lang *string
	if s, ok := obj["original_language"].(string); ok {
		lang = &s
	}

	rec := movie.Record{
		ID:                  id,
		Title:               title,
		Overview:            overview,
		ReleaseDate:         releaseDate,
		Runtime:             FormatRuntime(int(runtime)),
		Genres:              nameList(obj["genres"]),
		ProductionCompanies: nameList(obj["production_companies"]),
		Budget:              budget,
		Revenue:             revenue,
		Popularity:          popularity,
		VoteAverage:         voteAverage,
		VoteCount:           voteCount,
		Status:              status,
		PosterURL:           n.imageURL(poster),
		BackdropURL:         n.imageURL(backdrop),
		Language:            n.language(lang),
	}

	if err := Validate(rec); err != nil {
		return movie.Record{}, n.reject(id, reason(err), err)
	}

	n.accept(PathJSON)
	return rec, nil
}

// nameList accepts either the nested [{id, name}] form or an already
// flattened ", "-joined string.
func nameList(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				if name, ok := m["name"].(string); ok {
					out = append(out, name)
				}
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return strings.Split(t, movie.NameSeparator)
	}
	return nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
