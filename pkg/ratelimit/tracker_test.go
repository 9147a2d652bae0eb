package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestTracker_WaitUnblocked(t *testing.T) {
	tracker := NewTracker(Config{}, nil, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 10; i++ {
		if err := tracker.Wait(ctx); err != nil {
			t.Fatalf("Wait() #%d error = %v", i, err)
		}
	}
}

func TestTracker_UpdateFromResponse(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		retryAfter  string
		wantBlocked bool
		wantMin     time.Duration
	}{
		{name: "ok response", status: http.StatusOK},
		{name: "server error", status: http.StatusInternalServerError},
		{name: "429 with retry-after", status: http.StatusTooManyRequests, retryAfter: "4", wantBlocked: true, wantMin: 3 * time.Second},
		{name: "429 without retry-after", status: http.StatusTooManyRequests, wantBlocked: true, wantMin: DefaultBlock - time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(DefaultConfig(), nil, zerolog.Nop())
			resp := &http.Response{StatusCode: tt.status, Header: http.Header{}}
			if tt.retryAfter != "" {
				resp.Header.Set("Retry-After", tt.retryAfter)
			}

			if err := tracker.UpdateFromResponse(context.Background(), resp); err != nil {
				t.Fatalf("UpdateFromResponse() error = %v", err)
			}

			state, err := tracker.GetState(context.Background())
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}
			if got := state.IsBlocked(time.Now()); got != tt.wantBlocked {
				t.Errorf("IsBlocked() = %v, want %v", got, tt.wantBlocked)
			}
			if tt.wantBlocked && state.Remaining(time.Now()) < tt.wantMin {
				t.Errorf("Remaining() = %v, want at least %v", state.Remaining(time.Now()), tt.wantMin)
			}
		})
	}
}

func TestTracker_WaitHonoursBlock(t *testing.T) {
	tracker := NewTracker(Config{}, nil, zerolog.Nop())
	if err := tracker.Block(context.Background(), 150*time.Millisecond); err != nil {
		t.Fatalf("Block() error = %v", err)
	}

	start := time.Now()
	if err := tracker.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Wait() returned after %v, want at least the block window", elapsed)
	}
}

func TestTracker_WaitCancelled(t *testing.T) {
	tracker := NewTracker(Config{}, nil, zerolog.Nop())
	if err := tracker.Block(context.Background(), time.Minute); err != nil {
		t.Fatalf("Block() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := tracker.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestTracker_BlockKeepsLongerWindow(t *testing.T) {
	tracker := NewTracker(Config{}, nil, zerolog.Nop())
	ctx := context.Background()

	_ = tracker.Block(ctx, time.Minute)
	_ = tracker.Block(ctx, time.Second)

	state, _ := tracker.GetState(ctx)
	if state.Remaining(time.Now()) < 50*time.Second {
		t.Errorf("shorter block replaced longer window: remaining %v", state.Remaining(time.Now()))
	}
}

func TestTracker_SharedStateInRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	client.Del(ctx, RedisKeyBlockedUntil)
	t.Cleanup(func() {
		client.Del(context.Background(), RedisKeyBlockedUntil)
		client.Close()
	})

	first := NewTracker(Config{}, client, zerolog.Nop())
	if err := first.Block(ctx, 30*time.Second); err != nil {
		t.Fatalf("Block() error = %v", err)
	}

	second := NewTracker(Config{}, client, zerolog.Nop())
	state, err := second.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.IsBlocked(time.Now()) {
		t.Error("second tracker does not see the shared block")
	}
}
