// Package ratelimit paces requests to TMDb and backs off after 429 responses.
// Pacing is local (token bucket); the back-off deadline is optionally shared
// through Redis so that concurrent or consecutive runs honour the same
// Retry-After window.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RedisKeyBlockedUntil holds the Unix millisecond timestamp until which no
// request should be sent.
const RedisKeyBlockedUntil = "tmdb:rate_limit:blocked_until"

// DefaultBlock is used when a 429 carries no usable Retry-After header.
const DefaultBlock = 10 * time.Second

// BlockState is the shared back-off state.
type BlockState struct {
	// BlockedUntil is zero when requests are allowed.
	BlockedUntil time.Time `json:"blocked_until"`
}

// IsBlocked reports whether requests are currently held back.
func (s BlockState) IsBlocked(now time.Time) bool {
	return now.Before(s.BlockedUntil)
}

// Remaining returns the time left until the block lifts, or 0.
func (s BlockState) Remaining(now time.Time) time.Duration {
	d := s.BlockedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ParseRetryAfter parses a Retry-After header given either as delay seconds
// or as an HTTP date. It returns 0 when the header is missing or invalid.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
