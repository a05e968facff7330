// Package metrics exposes Prometheus counters for the discovery pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline counters. A single instance is created at
// process start and passed to the orchestrator.
type Metrics struct {
	CandidatesFound *prometheus.CounterVec
	ItemsAccepted   *prometheus.CounterVec
	Duplicates      *prometheus.CounterVec
	LowQuality      *prometheus.CounterVec
	ParseSkips      *prometheus.CounterVec
	CrawlFailures   *prometheus.CounterVec
}

// New registers the pipeline counters with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	bySource := []string{"source"}

	return &Metrics{
		CandidatesFound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "content_radar_candidates_found_total",
			Help: "Candidates returned by source adapters.",
		}, bySource),
		ItemsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "content_radar_items_accepted_total",
			Help: "Candidates promoted to corpus items.",
		}, bySource),
		Duplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "content_radar_duplicates_total",
			Help: "Candidates rejected as duplicates, including insert conflicts.",
		}, bySource),
		LowQuality: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "content_radar_low_quality_total",
			Help: "Candidates rejected below the quality threshold.",
		}, bySource),
		ParseSkips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "content_radar_parse_skips_total",
			Help: "Candidates dropped for malformed or unnormalizable fields.",
		}, bySource),
		CrawlFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "content_radar_crawl_failures_total",
			Help: "Per-source crawl operations that exhausted their retries.",
		}, bySource),
	}
}
