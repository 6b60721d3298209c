// Package metrics defines the Prometheus metrics exposed on /metrics:
// request outcomes, policy denials (rate limit, lockout, access limit),
// uploads, and downloads.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dinghy_requests_total",
		Help: "Total HTTP requests by route and status class",
	}, []string{"route", "status"})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dinghy_rate_limited_total",
		Help: "Requests rejected by the per-IP fixed-window rate limiter",
	})
	AuthFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dinghy_auth_failures_total",
		Help: "Credential checks that failed and grew an IP's failure count",
	})
	LockoutRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dinghy_lockout_rejections_total",
		Help: "Requests rejected during auth lockout without a credential check",
	})
	AccessDeniedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dinghy_access_denied_total",
		Help: "Downloads denied because the file's access budget was exhausted",
	})
	StorageErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dinghy_storage_errors_total",
		Help: "Backend failures by subsystem (counter, rate, auth, blob, meta)",
	}, []string{"subsystem"})
	UploadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dinghy_uploads_total",
		Help: "Files accepted by the upload endpoint",
	})
	DownloadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dinghy_downloads_total",
		Help: "File downloads served after passing the access gate",
	})
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		RequestsTotal,
		RateLimitedTotal,
		AuthFailuresTotal,
		LockoutRejectionsTotal,
		AccessDeniedTotal,
		StorageErrorsTotal,
		UploadsTotal,
		DownloadsTotal,
	)
}

// Handler serves the registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
