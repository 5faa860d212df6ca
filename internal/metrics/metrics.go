// Package metrics registers the Prometheus collectors for the AI
// orchestration layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderAttempts counts provider attempts by task, provider and outcome.
	ProviderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sproutly",
		Name:      "provider_attempts_total",
		Help:      "Provider attempts by task, provider and outcome.",
	}, []string{"task", "provider", "outcome"})

	// ProviderLatency observes per-attempt provider latency.
	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sproutly",
		Name:      "provider_latency_seconds",
		Help:      "Provider call latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"task", "provider"})

	// QuotaRejections counts requests rejected before any provider call.
	QuotaRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sproutly",
		Name:      "quota_rejections_total",
		Help:      "Requests rejected by sliding-window or monthly quota gates.",
	}, []string{"gate", "feature"})

	// LedgerWriteFailures counts usage log writes that failed.
	LedgerWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sproutly",
		Name:      "ledger_write_failures_total",
		Help:      "Usage ledger writes that failed (results were still served).",
	})
)
