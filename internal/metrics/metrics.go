// Package metrics exposes the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks connections currently registered.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vocalis",
		Name:      "active_sessions",
		Help:      "Number of live voice sessions.",
	})

	// TurnsTotal counts pipeline turns by outcome.
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vocalis",
		Name:      "turns_total",
		Help:      "Completed pipeline turns by outcome.",
	}, []string{"outcome"})

	// BargeInsTotal counts reply cancellations caused by new speech.
	BargeInsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vocalis",
		Name:      "barge_ins_total",
		Help:      "Turns cancelled because the user started speaking.",
	})

	// StageDuration observes per-stage pipeline latency.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vocalis",
		Name:      "stage_duration_seconds",
		Help:      "Latency of individual pipeline stages.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"stage"})

	// FirstChunkLatency observes speech-end to first audible chunk.
	FirstChunkLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vocalis",
		Name:      "first_chunk_latency_seconds",
		Help:      "Time from end of user speech to the first reply chunk.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	// FramesReceived counts inbound audio frames.
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vocalis",
		Name:      "frames_received_total",
		Help:      "Inbound audio frames accepted from devices.",
	})
)

// Turn outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeNoise     = "noise"
	OutcomeExit      = "exit"
	OutcomeIntent    = "intent"
	OutcomeError     = "error"
)
