package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts fresh entries served from Redis.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_response_cache_hits_total",
		Help: "Responses served from the Redis response cache",
	})

	// CacheMisses counts lookups without a fresh entry.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_response_cache_misses_total",
		Help: "Response cache lookups without a fresh entry",
	})

	// NotModified counts successful revalidations (304).
	NotModified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_response_cache_not_modified_total",
		Help: "Cached responses revalidated with 304 Not Modified",
	})

	// StoredBytes counts bytes written to the cache.
	StoredBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_response_cache_stored_bytes_total",
		Help: "Encoded bytes written to the response cache",
	})

	// CacheErrors counts failed cache operations.
	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_response_cache_errors_total",
		Help: "Response cache operation errors",
	}, []string{"operation"}) // "get", "set", "delete"
)
