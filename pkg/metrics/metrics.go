// Package metrics exposes the Prometheus metrics of the harvester. The
// metrics themselves are defined with promauto in the packages that record
// them, to keep those packages free of a shared dependency:
//
//	pagination  harvester_pages_total, harvester_page_fetch_duration_seconds,
//	            harvester_records_skipped_total
//	aggregator  harvester_batches_merged_total, harvester_store_records,
//	            harvester_persist_duration_seconds
//	storage     harvester_store_loads_total, harvester_store_bytes
//	imagecache  harvester_images_total, harvester_image_bytes_total
//	client      harvester_http_requests_total, harvester_http_request_duration_seconds,
//	            harvester_http_errors_total, harvester_http_retries_total,
//	            harvester_http_retry_backoff_seconds, harvester_http_retry_exhausted_total
//	cache       harvester_response_cache_{hits,misses,not_modified,stored_bytes,errors}_total
//	ratelimit   harvester_rate_limit_remaining, harvester_rate_limit_blocks_total,
//	            harvester_rate_limit_throttles_total, harvester_rate_limit_pacer_wait_seconds
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all harvester metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Handler serves the metrics of the default gatherer in the Prometheus
// exposition format. Scrapes are counted in promhttp_metric_handler_requests_total
// on Registry.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry,
		promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
}

// Example Prometheus Queries:
//
//	# Failed page share of the last hour
//	sum(increase(harvester_pages_total{status="failed"}[1h])) /
//	sum(increase(harvester_pages_total[1h]))
//
//	# Records in the store of the current run
//	harvester_store_records
//
//	# Response cache hit rate
//	sum(rate(harvester_response_cache_hits_total[5m])) /
//	(sum(rate(harvester_response_cache_hits_total[5m])) + sum(rate(harvester_response_cache_misses_total[5m])))
//
//	# P95 page fetch latency
//	histogram_quantile(0.95, rate(harvester_page_fetch_duration_seconds_bucket[5m]))
