// Package metrics holds the Prometheus collectors for authentication decisions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	authLoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"status"}, // success/failure/inactive/blocked
	)

	authLoginDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auth_login_duration_seconds",
			Help:    "Login request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	authRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Total number of access token refreshes",
		},
		[]string{"status"},
	)

	authGateDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_gate_decisions_total",
			Help: "Total number of authorization gate decisions",
		},
		[]string{"outcome", "reason", "source"}, // source: cache/signed/legacy/none
	)

	authRateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
	)

	verifyCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_verify_cache_lookups_total",
			Help: "Verification cache lookups",
		},
		[]string{"result"}, // hit_valid/hit_invalid/miss
	)

	verifyCacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_verify_cache_evictions_total",
			Help: "Verification cache entries removed",
		},
		[]string{"cause"}, // expired/capacity
	)

	verifyCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auth_verify_cache_entries",
			Help: "Current number of verification cache entries",
		},
	)
)

// RecordLoginAttempt records a login attempt metric
func RecordLoginAttempt(status string, duration time.Duration) {
	authLoginAttemptsTotal.WithLabelValues(status).Inc()
	authLoginDuration.Observe(duration.Seconds())
}

// RecordRefresh records a refresh outcome
func RecordRefresh(status string) {
	authRefreshTotal.WithLabelValues(status).Inc()
}

// RecordGateDecision records one authorization outcome
func RecordGateDecision(outcome, reason, source string) {
	authGateDecisionsTotal.WithLabelValues(outcome, reason, source).Inc()
}

// RecordRateLimitHit records a rate limit hit
func RecordRateLimitHit() {
	authRateLimitHitsTotal.Inc()
}

// RecordCacheLookup records a verification cache lookup
func RecordCacheLookup(result string) {
	verifyCacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordCacheEvictions records removed cache entries
func RecordCacheEvictions(cause string, n int) {
	if n > 0 {
		verifyCacheEvictionsTotal.WithLabelValues(cause).Add(float64(n))
	}
}

// SetCacheEntries sets the cache size gauge
func SetCacheEntries(n int) {
	verifyCacheEntries.Set(float64(n))
}
