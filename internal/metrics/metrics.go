// Package metrics exposes Prometheus collectors for the resolution engine.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	resolveAttemptsTotal   *prometheus.CounterVec
	resolveCandidatesTotal *prometheus.CounterVec
	fetchBytesTotal        *prometheus.CounterVec
	previewsSavedTotal     prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		resolveAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fanart_resolve_attempts_total",
				Help: "Resolution strategy invocations, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)
		resolveCandidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fanart_resolve_candidates_total",
				Help: "Candidates produced per strategy.",
			},
			[]string{"strategy"},
		)
		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fanart_fetch_bytes_total",
				Help: "Image bytes fetched, labeled by host.",
			},
			[]string{"host"},
		)
		previewsSavedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fanart_previews_saved_total",
				Help: "Preview images persisted.",
			},
		)
	})
}

// ObserveStrategy records one strategy run and its candidate count.
func ObserveStrategy(strategy string, candidates int) {
	if resolveAttemptsTotal == nil {
		return
	}
	outcome := "empty"
	if candidates > 0 {
		outcome = "hit"
	}
	resolveAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
	resolveCandidatesTotal.WithLabelValues(strategy).Add(float64(candidates))
}

// ObserveFetch records fetched image bytes against the URL's host.
func ObserveFetch(rawURL string, size int) {
	if fetchBytesTotal == nil {
		return
	}
	fetchBytesTotal.WithLabelValues(sanitizeHost(rawURL)).Add(float64(size))
}

// ObservePreviewsSaved counts persisted preview images.
func ObservePreviewsSaved(n int) {
	if previewsSavedTotal == nil {
		return
	}
	previewsSavedTotal.Add(float64(n))
}

// sanitizeHost extracts a lowercase hostname, or "unknown" for invalid URLs.
func sanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
