// Package metrics exposes the engine's own prometheus collectors,
// registered on the default registry that the control plane's /metrics
// endpoint serves. franz-go's kprom collectors (internal/transport,
// KafkaBus.Metrics) are not registered there.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OutboxDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "syncwatch",
		Subsystem: "outbox",
		Name:      "depth",
		Help:      "Outbox entries currently PENDING or SENDING, as of the last drain.",
	}, []string{"state"})

	DrainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "syncwatch",
		Subsystem: "outbox",
		Name:      "drain_duration_seconds",
		Help:      "Wall-clock time spent draining PENDING outbox entries per tick.",
		Buckets:   prometheus.DefBuckets,
	})

	InboundApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncwatch",
		Subsystem: "inbox",
		Name:      "applied_total",
		Help:      "Inbound operations applied, by outcome.",
	}, []string{"outcome"})

	MaintenanceTickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncwatch",
		Subsystem: "maintenance",
		Name:      "tick_errors_total",
		Help:      "Maintenance ticks that returned an error.",
	})
)
