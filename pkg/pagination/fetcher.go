package pagination

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/movie"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/window"
)

var (
	fetchWindowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "movies_fetch_windows_total",
		Help: "Date windows walked by the fetcher",
	})

	fetchPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "movies_fetch_pages_total",
		Help: "Discover pages fetched successfully",
	})

	fetchPayloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "movies_fetch_payloads_total",
		Help: "Detail payloads yielded by the fetcher",
	})

	fetchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movies_fetch_failures_total",
		Help: "Fetch failures by kind (page, detail)",
	}, []string{"kind"})
)

// Source is the upstream the fetcher reads from. *client.Client implements it.
type Source interface {
	DiscoverMovies(ctx context.Context, w window.DateWindow, page int) (*movie.DiscoverPage, error)
	MovieDetails(ctx context.Context, id int64) ([]byte, error)
}

// Config holds fetcher configuration.
type Config struct {
	// MaxConcurrency is the number of detail requests in flight per page.
	// One fetches details strictly in listing order, one at a time.
	MaxConcurrency int

	// RequestTimeout bounds each listing and detail request. Expiry counts as
	// a failure of that request.
	RequestTimeout time.Duration

	// MaxPages is the last page requested per window.
	MaxPages int
}

// DefaultConfig returns the defaults for TMDb.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 1,
		RequestTimeout: 15 * time.Second,
		MaxPages:       500,
	}
}

// Stats counts fetcher progress.
type Stats struct {
	Windows        int
	Pages          int
	Payloads       int
	PageFailures   int
	DetailFailures int
}

// Fetcher turns date windows into a lazy sequence of detail payloads.
type Fetcher struct {
	source Source
	config Config
	logger zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a fetcher.
func New(source Source, cfg Config, logger zerolog.Logger) *Fetcher {
	def := DefaultConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	return &Fetcher{source: source, config: cfg, logger: logger}
}

// Stats returns the counts accumulated so far.
func (f *Fetcher) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Range yields the payloads of every window in order.
func (f *Fetcher) Range(ctx context.Context, windows []window.DateWindow) iter.Seq[movie.Payload] {
	return func(yield func(movie.Payload) bool) {
		for _, w := range windows {
			if ctx.Err() != nil {
				return
			}
			for p := range f.Window(ctx, w) {
				if !yield(p) {
					return
				}
			}
		}
	}
}

// Window yields the payloads of the movies released within w. The sequence
// is single-use; ranging over it again repeats the requests.
func (f *Fetcher) Window(ctx context.Context, w window.DateWindow) iter.Seq[movie.Payload] {
	return func(yield func(movie.Payload) bool) {
		f.count(func(s *Stats) { s.Windows++ })
		fetchWindowsTotal.Inc()

		logger := f.logger.With().Str("window", w.String()).Logger()
		logger.Info().Msg("Fetching window")

		totalPages := 0
		for page := 1; ; page++ {
			if ctx.Err() != nil {
				return
			}
			if page > f.config.MaxPages || (totalPages > 0 && page > totalPages) {
				return
			}

			result, err := f.discover(ctx, w, page)
			if err != nil {
				f.count(func(s *Stats) { s.PageFailures++ })
				fetchFailuresTotal.WithLabelValues("page").Inc()
				logger.Error().Err(err).Int("page", page).Msg("Failed to fetch page, skipping rest of window")
				return
			}
			f.count(func(s *Stats) { s.Pages++ })
			fetchPagesTotal.Inc()

			if page == 1 {
				totalPages = result.TotalPages
				logger.Info().
					Int("total_pages", totalPages).
					Int("total_results", result.TotalResults).
					Msg("Window listing")
			}
			if totalPages == 0 || len(result.Results) == 0 {
				return
			}

			if f.config.MaxConcurrency == 1 {
				for _, summary := range result.Results {
					if ctx.Err() != nil {
						return
					}
					body := f.detail(ctx, summary.ID)
					if body != nil && !f.emit(yield, movie.Payload{ID: summary.ID, Body: body}) {
						return
					}
				}
				continue
			}
			for _, p := range f.details(ctx, result.Results) {
				if !f.emit(yield, p) {
					return
				}
			}
		}
	}
}

func (f *Fetcher) emit(yield func(movie.Payload) bool, p movie.Payload) bool {
	f.count(func(s *Stats) { s.Payloads++ })
	fetchPayloadsTotal.Inc()
	return yield(p)
}

func (f *Fetcher) discover(ctx context.Context, w window.DateWindow, page int) (*movie.DiscoverPage, error) {
	ctx, cancel := context.WithTimeout(ctx, f.config.RequestTimeout)
	defer cancel()
	return f.source.DiscoverMovies(ctx, w, page)
}

// details fetches the payloads for one page with a bounded worker pool and
// returns the successful ones in listing order.
func (f *Fetcher) details(ctx context.Context, summaries []movie.Summary) []movie.Payload {
	bodies := make([][]byte, len(summaries))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for range min(f.config.MaxConcurrency, len(summaries)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				bodies[i] = f.detail(ctx, summaries[i].ID)
			}
		}()
	}

feed:
	for i := range summaries {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	out := make([]movie.Payload, 0, len(summaries))
	for i, body := range bodies {
		if body != nil {
			out = append(out, movie.Payload{ID: summaries[i].ID, Body: body})
		}
	}
	return out
}

func (f *Fetcher) detail(ctx context.Context, id int64) []byte {
	ctx, cancel := context.WithTimeout(ctx, f.config.RequestTimeout)
	defer cancel()

	body, err := f.source.MovieDetails(ctx, id)
	if err != nil {
		f.count(func(s *Stats) { s.DetailFailures++ })
		fetchFailuresTotal.WithLabelValues("detail").Inc()
		f.logger.Warn().Err(err).Int64("movie_id", id).Msg("Failed to fetch movie details, skipping")
		return nil
	}
	return body
}

func (f *Fetcher) count(update func(*Stats)) {
	f.mu.Lock()
	update(&f.stats)
	f.mu.Unlock()
}
