package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	tmdbRateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tmdb_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a request slot",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})

	tmdbRateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tmdb_rate_limit_blocks_total",
		Help: "Total number of 429 responses that started a back-off window",
	})

	tmdbRateLimitBlockedSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tmdb_rate_limit_blocked_seconds",
		Help: "Length of the most recent back-off window",
	})
)

// Config configures request pacing.
type Config struct {
	// RequestsPerSecond is the sustained request rate. Zero disables pacing.
	RequestsPerSecond float64

	// Burst is the token bucket size.
	Burst int
}

// DefaultConfig stays well under TMDb's documented limit of roughly 50
// requests per second.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 20, Burst: 5}
}

// Tracker gates requests on a token bucket and on the current back-off window.
type Tracker struct {
	limiter *rate.Limiter
	redis   *redis.Client
	logger  zerolog.Logger

	mu           sync.Mutex
	blockedUntil time.Time
	now          func() time.Time
}

// NewTracker creates a tracker. redisClient may be nil, in which case the
// back-off window is kept in memory only.
func NewTracker(cfg Config, redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Tracker{
		limiter: rate.NewLimiter(limit, burst),
		redis:   redisClient,
		logger:  logger,
		now:     time.Now,
	}
}

// GetState returns the current back-off state, merging the shared Redis
// state with the local one.
func (t *Tracker) GetState(ctx context.Context) (BlockState, error) {
	t.mu.Lock()
	state := BlockState{BlockedUntil: t.blockedUntil}
	t.mu.Unlock()

	if t.redis == nil {
		return state, nil
	}

	ms, err := t.redis.Get(ctx, RedisKeyBlockedUntil).Int64()
	if errors.Is(err, redis.Nil) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("get blocked until: %w", err)
	}
	if shared := time.UnixMilli(ms); shared.After(state.BlockedUntil) {
		state.BlockedUntil = shared
	}
	return state, nil
}

// Wait blocks until a request may be sent or ctx is done. A Redis failure is
// logged and the local state is used.
func (t *Tracker) Wait(ctx context.Context) error {
	start := t.now()
	defer func() {
		tmdbRateLimitWaitSeconds.Observe(time.Since(start).Seconds())
	}()

	state, err := t.GetState(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Rate limit state unavailable, using local state")
	}

	if wait := state.Remaining(t.now()); wait > 0 {
		t.logger.Warn().
			Dur("wait", wait).
			Time("blocked_until", state.BlockedUntil).
			Msg("Upstream rate limit active, waiting")

		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return t.limiter.Wait(ctx)
}

// UpdateFromResponse starts a back-off window when resp is a 429. The window
// length comes from Retry-After, falling back to DefaultBlock.
func (t *Tracker) UpdateFromResponse(ctx context.Context, resp *http.Response) error {
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		return nil
	}

	now := t.now()
	wait := ParseRetryAfter(resp.Header.Get("Retry-After"), now)
	if wait <= 0 {
		wait = DefaultBlock
	}
	return t.Block(ctx, wait)
}

// Block holds back requests for d. An existing longer window is kept.
func (t *Tracker) Block(ctx context.Context, d time.Duration) error {
	until := t.now().Add(d)

	t.mu.Lock()
	if until.After(t.blockedUntil) {
		t.blockedUntil = until
	}
	t.mu.Unlock()

	tmdbRateLimitBlocksTotal.Inc()
	tmdbRateLimitBlockedSeconds.Set(d.Seconds())
	t.logger.Warn().
		Dur("retry_after", d).
		Time("blocked_until", until).
		Msg("TMDb rate limit hit, backing off")

	if t.redis == nil {
		return nil
	}

	// Only move the shared deadline forward.
	err := t.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, RedisKeyBlockedUntil).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current >= until.UnixMilli() {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, RedisKeyBlockedUntil, strconv.FormatInt(until.UnixMilli(), 10), d)
			return nil
		})
		return err
	}, RedisKeyBlockedUntil)
	if err != nil {
		return fmt.Errorf("store blocked until in redis: %w", err)
	}
	return nil
}
