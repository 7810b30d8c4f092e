// Package metrics provides the Prometheus registry reference and the HTTP
// metrics middleware of the report server. Domain metrics are defined in their
// own packages (bitrix, pagination, ratelimit) to avoid circular dependencies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry. All metrics are registered via promauto.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Bitrix24 Call Metrics (pkg/bitrix):
//   - bitrix_requests_total{method, status} (Counter): REST calls by method and HTTP status
//     ("network_error" and "blocked" for calls without a response)
//   - bitrix_request_duration_seconds{method} (Histogram): REST call duration
//   - bitrix_errors_total{class} (Counter): failures by class
//     (network, client, server, decode, api, rate_limit)
//
// Operating Budget Metrics (pkg/ratelimit):
//   - bitrix_operating_seconds{method} (Gauge): operating time used in the current window
//   - bitrix_rate_limit_blocks_total{method} (Counter): calls refused locally
//   - bitrix_rate_limit_throttles_total{method} (Counter): calls delayed locally
//
// Pagination Metrics (pkg/pagination):
//   - pagination_fetches_total{reason} (Counter): fetches by termination reason
//     (empty_page, short_page, limit_reached, error)
//   - pagination_pages_per_fetch (Histogram): page requests per fetch
//   - pagination_items_per_fetch (Histogram): items returned per successful fetch
//
// HTTP Metrics (this package):
//   - report_http_requests_total{method, path, status} (Counter)
//   - report_http_request_duration_seconds{method, path, status} (Histogram)
//
// Example Prometheus Queries:
//
//   # Report error rate
//   sum(rate(report_http_requests_total{path="/api/reports/data",status="500"}[5m]))
//
//   # Pages per report (P95)
//   histogram_quantile(0.95, rate(pagination_pages_per_fetch_bucket[15m]))
//
//   # Operating budget headroom
//   480 - bitrix_operating_seconds
