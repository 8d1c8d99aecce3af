// Package metrics defines the Prometheus metrics exported by the proxy.
// Labels are kept low-cardinality throughout: method, status, and small
// bounded outcome strings only — never raw paths or client IPs.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// proxyRequestsTotal counts client-facing proxy responses by method and status.
	proxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_requests_total",
			Help: "Total client-facing proxy responses by method and status",
		},
		[]string{"method", "status"},
	)
	// proxyRequestDuration captures end-to-end proxy latency (client-facing).
	proxyRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxy_request_duration_seconds",
			Help:    "End-to-end proxy request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	// proxyRateLimited counts requests short-circuited by the rate limiter.
	proxyRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proxy_rate_limited_total",
			Help: "Total requests rejected with 429 by the rate limiter",
		},
	)
	// proxyCandidatesAttempted observes how many candidate origins a request needed.
	proxyCandidatesAttempted = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "proxy_candidates_attempted",
			Help:    "Number of candidate origins attempted before success or exhaustion",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 16},
		},
	)
	// proxyRewriteMatches counts URLs rewritten across all textual responses.
	proxyRewriteMatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proxy_rewrite_matches_total",
			Help: "Total absolute URLs rewritten in textual response bodies",
		},
	)
	// proxyUpstreamRequestsTotal counts upstream responses observed by the dispatcher.
	proxyUpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_upstream_requests_total",
			Help: "Total upstream responses observed by the dispatcher, by origin host, method and status",
		},
		[]string{"upstream", "method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		proxyRequestsTotal,
		proxyRequestDuration,
		proxyRateLimited,
		proxyCandidatesAttempted,
		proxyRewriteMatches,
		proxyUpstreamRequestsTotal,
	)
}

// ObserveProxyResponse records a client-facing proxy response.
func ObserveProxyResponse(method string, status int, dur time.Duration) {
	proxyRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	proxyRequestDuration.WithLabelValues(method).Observe(dur.Seconds())
}

// ObserveUpstreamResponse records one candidate's response as seen by the dispatcher.
func ObserveUpstreamResponse(upstreamHost, method string, status int) {
	if upstreamHost == "" {
		upstreamHost = "unknown"
	}
	proxyUpstreamRequestsTotal.WithLabelValues(upstreamHost, method, strconv.Itoa(status)).Inc()
}

// RateLimitedInc increments the rate-limited counter.
func RateLimitedInc() { proxyRateLimited.Inc() }

// CandidatesAttemptedObserve records how many candidates one client request needed.
func CandidatesAttemptedObserve(n int) { proxyCandidatesAttempted.Observe(float64(n)) }

// RewriteMatchesAdd adds n to the rewrite-match counter.
func RewriteMatchesAdd(n int) {
	if n > 0 {
		proxyRewriteMatches.Add(float64(n))
	}
}
