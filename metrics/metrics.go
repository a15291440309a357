// Package metrics exposes Prometheus instrumentation for the download
// pipeline. Collectors are registered on the default registry; Serve
// optionally exposes them over HTTP for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// CacheHits counts metadata lookups served from the local cache.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "accela_metadata_cache_hits_total",
		Help: "Metadata lookups answered by the local cache.",
	})

	// CacheMisses counts metadata lookups that had to go to the network.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "accela_metadata_cache_misses_total",
		Help: "Metadata lookups that required a network fetch.",
	})

	// MetadataFetches counts network metadata fetches by source and outcome.
	MetadataFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accela_metadata_fetches_total",
		Help: "Network metadata fetches by source and outcome.",
	}, []string{"source", "outcome"})

	// DepotDownloads counts per-depot download attempts by outcome.
	DepotDownloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accela_depot_downloads_total",
		Help: "Per-depot download attempts by outcome.",
	}, []string{"outcome"})

	// JobsFinished counts queue jobs by terminal state.
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accela_jobs_finished_total",
		Help: "Queue jobs by terminal state.",
	}, []string{"state"})

	// NetworkSpeed is the most recent receive throughput in bytes per second.
	NetworkSpeed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "accela_network_receive_bytes_per_second",
		Help: "Most recent measured receive throughput.",
	})
)

// Serve starts an HTTP listener exposing /metrics. It blocks, so run
// it on its own goroutine. An empty addr disables the listener.
func Serve(addr string, logger *logrus.Logger) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.WithField("addr", addr).Info("Serving Prometheus metrics")
	return http.ListenAndServe(addr, mux)
}
