// Package metrics provides centralized Prometheus metrics registry for the Helix client.
// All metrics are defined in their respective packages (client, auth, ratelimit,
// pagination) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the Helix client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves every registered metric in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - helix_rate_limit_remaining (Gauge): Points remaining in the current bucket
//   - helix_rate_limit_throttles_total (Counter): Responses that started or extended a cooldown
//   - helix_rate_limit_waits_total (Counter): Requests held back by a cooldown
//   - helix_rate_limit_wait_seconds (Histogram): Time spent waiting for a cooldown
//
// Token Metrics (pkg/auth):
//   - helix_token_mints_total{result} (Counter): Client-credentials token requests by result
//
// Request Metrics (pkg/client):
//   - helix_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - helix_request_duration_seconds{endpoint} (Histogram): Call duration including waits and retries
//   - helix_errors_total{class} (Counter): Errors by class (client, unauthorized, server, rate_limit, network, decode)
//
// Retry Metrics (pkg/client):
//   - helix_retries_total{error_class} (Counter): Retry attempts by error class
//   - helix_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - helix_retry_exhausted_total{error_class} (Counter): Calls that exhausted the retry cap
//
// Pagination Metrics (pkg/pagination):
//   - helix_pages_fetched_total{endpoint} (Counter): Pages fetched by streams
//
// Example Prometheus Queries:
//
//   # Reauthentication Rate
//   rate(helix_token_mints_total{result="success"}[5m])
//
//   # Throttled Share of Requests
//   rate(helix_requests_total{status="429"}[5m]) / rate(helix_requests_total[5m])
//
//   # Request Error Rate
//   rate(helix_errors_total[5m])
//
//   # P95 Call Latency
//   histogram_quantile(0.95, rate(helix_request_duration_seconds_bucket[5m]))
//
//   # Bucket Nearly Empty
//   helix_rate_limit_remaining < 50
