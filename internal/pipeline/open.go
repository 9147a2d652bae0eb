package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/internal/config"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/blob"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/client"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/ratelimit"
	"github.com/vedanth09/Real-Time-Pipeline-From-Data-Streams-to-Insights/pkg/warehouse"
)

// redisPingTimeout bounds the startup Redis check.
const redisPingTimeout = 3 * time.Second

// Open builds the TMDb client, staging store and warehouse described by cfg
// and returns a runner over them. Close the runner to release them.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (r *Runner, err error) {
	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	}()

	rdb := openRedis(ctx, cfg.Redis, logger)
	if rdb != nil {
		closers = append(closers, rdb.Close)
	}

	tmdb, err := client.New(clientConfig(cfg, rdb))
	if err != nil {
		return nil, fmt.Errorf("create tmdb client: %w", err)
	}
	closers = append(closers, tmdb.Close)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}

	wh, err := openWarehouse(ctx, cfg, store, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, wh.Close)

	r = New(cfg, tmdb, store, wh, logger)
	r.closers = closers
	return r, nil
}

func clientConfig(cfg *config.Config, rdb *redis.Client) client.Config {
	cc := client.DefaultConfig(cfg.TMDB.APIKey)
	cc.BaseURL = cfg.TMDB.BaseURL
	cc.Language = cfg.TMDB.Language
	cc.RequestTimeout = cfg.TMDB.RequestTimeout
	cc.Retry.MaxAttempts = cfg.TMDB.MaxRetries
	cc.RateLimit = ratelimit.Config{
		RequestsPerSecond: cfg.TMDB.RequestsPerSecond,
		Burst:             cfg.TMDB.Burst,
	}
	cc.Redis = rdb
	cc.DetailCacheTTL = cfg.TMDB.DetailCacheTTL
	return cc
}

// openRedis returns nil when Redis is not configured or not reachable; the
// run then proceeds without the detail cache and with in-memory back-off.
func openRedis(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis unavailable, continuing without cache")
		rdb.Close()
		return nil
	}
	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("Connected to Redis")
	return rdb
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (blob.Store, func() error, error) {
	storeLogger := logger.With().Str("component", "blob").Str("backend", cfg.Storage.Backend).Logger()

	switch cfg.Storage.Backend {
	case config.StorageGCS:
		s, err := blob.NewGCSStore(ctx, storeLogger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.StorageS3:
		s, err := blob.NewS3Store(blob.S3Config{
			Endpoint:  cfg.Storage.S3.Endpoint,
			AccessKey: cfg.Storage.S3.AccessKey,
			SecretKey: cfg.Storage.S3.SecretKey,
			Region:    cfg.Storage.S3.Region,
			UseSSL:    cfg.Storage.S3.UseSSL,
		}, storeLogger)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureBucket(ctx, cfg.Storage.Bucket); err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case config.StorageFile:
		return blob.NewFileStore(cfg.Storage.Root), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

func openWarehouse(ctx context.Context, cfg *config.Config, store blob.Store, logger zerolog.Logger) (warehouse.Warehouse, error) {
	ref := warehouse.TableRef{
		Project: cfg.ProjectID,
		Dataset: cfg.Warehouse.Dataset,
		Table:   cfg.Warehouse.Table,
	}
	whLogger := logger.With().Str("component", "warehouse").Str("backend", cfg.Warehouse.Backend).Logger()

	switch cfg.Warehouse.Backend {
	case config.WarehouseBigQuery:
		return warehouse.NewBigQuery(ctx, ref, whLogger)
	case config.WarehouseDuckDB:
		return warehouse.OpenDuckDB(cfg.Warehouse.DuckDBPath, ref, store, whLogger)
	default:
		return nil, fmt.Errorf("unsupported warehouse backend %q", cfg.Warehouse.Backend)
	}
}
