// Package cache provides a Redis-backed HTTP response cache with
// conditional revalidation.
//
// Page responses of the grid API are cached under a deterministic key built
// from host, path and sorted query parameters. An entry lives until the
// freshness lifetime announced by the response (Cache-Control max-age or
// Expires) or, when the response carries none, until a configured default
// TTL. Entries that carry an ETag or Last-Modified value are revalidated
// with If-None-Match / If-Modified-Since, and a 304 answer extends them
// without transferring the body again.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient)
//
//	key := cache.KeyFromURL(req.URL)
//	entry, err := manager.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from the API
//	}
//
// # Storing Responses
//
//	entry, err := cache.ResponseToEntry(resp, 5*time.Minute)
//	if err != nil {
//		return err
//	}
//	if err := manager.Set(ctx, key, entry); err != nil {
//		return err
//	}
//
// # Metrics
//
//   - harvester_response_cache_hits_total
//   - harvester_response_cache_misses_total
//   - harvester_response_cache_not_modified_total
//   - harvester_response_cache_stored_bytes_total
//   - harvester_response_cache_errors_total{operation}
package cache
