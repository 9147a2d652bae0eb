// Package normalize maps raw TMDb detail payloads into movie records and
// rejects records that fail the field-format rules.
package normalize

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/movie"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/window"
)

var (
	recordsNormalizedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movies_records_normalized_total",
		Help: "Records accepted by the normalizer by ingestion path",
	}, []string{"path"})

	recordsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movies_records_rejected_total",
		Help: "Records rejected by the normalizer by reason",
	}, []string{"reason"})
)

// ErrRejected marks a record that failed validation. Rejections are not fatal;
// callers drop the record and continue.
var ErrRejected = errors.New("record rejected")

// alphabeticRX allows ASCII letters and spaces only.
var alphabeticRX = regexp.MustCompile(`^[A-Za-z ]+$`)

// Ingestion paths, used as metric labels.
const (
	PathAPI  = "api"
	PathJSON = "json"
)

// Config holds normalizer settings.
type Config struct {
	// ImageBaseURL is prefixed to poster_path and backdrop_path.
	ImageBaseURL string

	// DefaultLanguage is used when original_language is missing.
	DefaultLanguage string

	// StripField is removed at every depth from ingested JSON documents.
	StripField string
}

// DefaultConfig returns the TMDb defaults.
func DefaultConfig() Config {
	return Config{
		ImageBaseURL:    "https://image.tmdb.org/t/p/w500",
		DefaultLanguage: "unknown",
		StripField:      "adult",
	}
}

// Stats counts normalizer outcomes.
type Stats struct {
	Accepted int
	Rejected int
}

// Normalizer converts raw payloads into movie records.
type Normalizer struct {
	config Config
	logger zerolog.Logger
	stats  Stats
}

// New creates a normalizer.
func New(cfg Config, logger zerolog.Logger) *Normalizer {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = DefaultConfig().DefaultLanguage
	}
	if cfg.StripField == "" {
		cfg.StripField = DefaultConfig().StripField
	}
	return &Normalizer{config: cfg, logger: logger}
}

// Stats returns the counts accumulated so far.
func (n *Normalizer) Stats() Stats {
	return n.stats
}

// Normalize maps one /movie/{id} payload into a record. A record with a zero
// or missing runtime gets no runtime text.
func (n *Normalizer) Normalize(body []byte) (movie.Record, error) {
	var d movie.Details
	if err := json.Unmarshal(body, &d); err != nil {
		return movie.Record{}, n.reject(0, "decode", fmt.Errorf("%w: decode details: %v", ErrRejected, err))
	}

	rec := movie.Record{
		ID:                  d.ID,
		Title:               d.Title,
		Overview:            d.Overview,
		ReleaseDate:         d.ReleaseDate,
		Genres:              names(d.Genres),
		ProductionCompanies: names(d.ProductionCompanies),
		Budget:              d.Budget,
		Revenue:             d.Revenue,
		Popularity:          d.Popularity,
		VoteAverage:         d.VoteAverage,
		VoteCount:           d.VoteCount,
		Status:              d.Status,
		PosterURL:           n.imageURL(deref(d.PosterPath)),
		BackdropURL:         n.imageURL(deref(d.BackdropPath)),
		Language:            n.language(d.OriginalLanguage),
	}
	if d.Runtime != nil && *d.Runtime > 0 {
		rec.Runtime = FormatRuntime(*d.Runtime)
	}

	if len(rec.Genres) == 0 || len(rec.ProductionCompanies) == 0 {
		return movie.Record{}, n.reject(d.ID, "format", fmt.Errorf("%w: genres and production companies are required", ErrRejected))
	}
	if err := Validate(rec); err != nil {
		return movie.Record{}, n.reject(d.ID, reason(err), err)
	}

	n.accept(PathAPI)
	return rec, nil
}

// errBadDate marks a release_date that is not a YYYY-MM-DD calendar date.
var errBadDate = errors.New("release_date")

// Validate applies the letters-and-spaces rule to the title and to every genre
// and production company name. A non-empty release_date must be a calendar
// date.
func Validate(rec movie.Record) error {
	if rec.ReleaseDate != "" {
		if _, err := window.ParseDate(rec.ReleaseDate); err != nil {
			return fmt.Errorf("%w: %w %q", ErrRejected, errBadDate, rec.ReleaseDate)
		}
	}
	if !IsAlphabetic(rec.Title) {
		return fmt.Errorf("%w: title %q", ErrRejected, rec.Title)
	}
	for _, g := range rec.Genres {
		if !IsAlphabetic(g) {
			return fmt.Errorf("%w: genre %q", ErrRejected, g)
		}
	}
	for _, c := range rec.ProductionCompanies {
		if !IsAlphabetic(c) {
			return fmt.Errorf("%w: production company %q", ErrRejected, c)
		}
	}
	return nil
}

// IsAlphabetic reports whether s is non-empty and made of ASCII letters and
// spaces only.
func IsAlphabetic(s string) bool {
	return alphabeticRX.MatchString(s)
}

// FormatRuntime renders a runtime in minutes as "<N> minutes".
func FormatRuntime(minutes int) string {
	return fmt.Sprintf("%d minutes", minutes)
}

// TitleCase upper-cases the first letter of every word and lower-cases the rest.
func TitleCase(s string) string {
	return cases.Title(language.Und).String(s)
}

func (n *Normalizer) imageURL(path string) string {
	if path == "" {
		return ""
	}
	return n.config.ImageBaseURL + path
}

func (n *Normalizer) language(code *string) string {
	if code == nil {
		return TitleCase(n.config.DefaultLanguage)
	}
	return TitleCase(*code)
}

func (n *Normalizer) accept(path string) {
	n.stats.Accepted++
	recordsNormalizedTotal.WithLabelValues(path).Inc()
}

func (n *Normalizer) reject(id int64, reason string, err error) error {
	n.stats.Rejected++
	recordsRejectedTotal.WithLabelValues(reason).Inc()
	n.logger.Warn().
		Err(err).
		Int64("movie_id", id).
		Str("reason", reason).
		Msg("Skipping movie due to invalid data format")
	return err
}

// reason returns the metric label for a Validate error.
func reason(err error) string {
	if errors.Is(err, errBadDate) {
		return "release_date"
	}
	return "format"
}

func names(items []movie.Named) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
