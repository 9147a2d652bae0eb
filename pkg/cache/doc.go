// Package cache stores TMDb detail payloads in Redis so that reruns over the
// same date range do not refetch every movie.
//
// Entries carry their own expiry and are also stored with a Redis TTL, so
// stale entries disappear without a sweeper.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient, 24*time.Hour)
//
//	key := cache.CacheKey{
//		Endpoint:    "movie/603",
//		QueryParams: url.Values{"language": []string{"en"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from TMDb, then
//		_ = manager.Put(ctx, key, body)
//	}
//
// # Metrics
//
// tmdb_cache_hits_total, tmdb_cache_misses_total, tmdb_cache_stored_bytes_total
// and tmdb_cache_errors_total{operation}.
package cache
