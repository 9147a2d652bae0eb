//go:build integration

package integration

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/internal/testutil"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/client"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/ratelimit"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, string) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	addr := host + ":" + port.Port()
	redisClient := redis.NewClient(&redis.Options{Addr: addr})

	t.Cleanup(func() {
		redisClient.Close()
		container.Terminate(ctx)
	})

	return redisClient, addr
}

func newClient(t *testing.T, mock *testutil.MockTMDB, redisClient *redis.Client) *client.Client {
	t.Helper()
	cfg := client.DefaultConfig("integration-key")
	cfg.BaseURL = mock.URL()
	cfg.Redis = redisClient
	cfg.DetailCacheTTL = time.Minute
	cfg.Retry.InitialBackoff = 10 * time.Millisecond
	cfg.Retry.MaxBackoff = 2 * time.Second

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// TestDetailCacheSharedAcrossRuns checks that a second client, as in a rerun,
// is served from Redis without calling TMDb.
func TestDetailCacheSharedAcrossRuns(t *testing.T) {
	redisClient, _ := setupRedis(t)

	mock := testutil.NewMockTMDB()
	defer mock.Close()
	mock.AddMovie(603, "1999-03-31", testutil.MovieJSON(603, "The Matrix", "1999-03-31"))

	ctx := context.Background()

	first := newClient(t, mock, redisClient)
	body1, err := first.MovieDetails(ctx, 603)
	if err != nil {
		t.Fatalf("Request 1 failed: %v", err)
	}

	second := newClient(t, mock, redisClient)
	body2, err := second.MovieDetails(ctx, 603)
	if err != nil {
		t.Fatalf("Request 2 failed: %v", err)
	}

	if string(body1) != string(body2) {
		t.Error("cached body differs from upstream body")
	}
	if got := mock.GetPathCount("/movie/603"); got != 1 {
		t.Errorf("TMDb requests = %d, want 1", got)
	}
}

// TestSharedRateLimitBlock checks that a back-off window stored in Redis by
// another process delays this client's requests.
func TestSharedRateLimitBlock(t *testing.T) {
	redisClient, _ := setupRedis(t)

	mock := testutil.NewMockTMDB()
	defer mock.Close()
	mock.AddMovie(1, "2024-01-01", testutil.MovieJSON(1, "Heat", "2024-01-01"))

	ctx := context.Background()
	until := time.Now().Add(1500 * time.Millisecond).UnixMilli()
	if err := redisClient.Set(ctx, ratelimit.RedisKeyBlockedUntil, strconv.FormatInt(until, 10), time.Minute).Err(); err != nil {
		t.Fatalf("seed block: %v", err)
	}

	c := newClient(t, mock, redisClient)

	start := time.Now()
	if _, err := c.MovieDetails(ctx, 1); err != nil {
		t.Fatalf("MovieDetails failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("request sent after %v, want it held back by the shared block", elapsed)
	}
}

// TestRateLimitResponsePublishesBlock checks that a 429 stores the back-off
// window in Redis for other processes.
func TestRateLimitResponsePublishesBlock(t *testing.T) {
	redisClient, _ := setupRedis(t)

	mock := testutil.NewMockTMDB()
	defer mock.Close()
	mock.SetResponse("/movie/2", testutil.NewRateLimitResponse("1"))

	c := newClient(t, mock, redisClient)
	ctx := context.Background()

	before := time.Now()
	c.MovieDetails(ctx, 2)

	ms, err := redisClient.Get(ctx, ratelimit.RedisKeyBlockedUntil).Int64()
	if err != nil {
		t.Fatalf("blocked_until not stored: %v", err)
	}
	if !time.UnixMilli(ms).After(before) {
		t.Errorf("blocked_until %v not after request start %v", time.UnixMilli(ms), before)
	}
}
