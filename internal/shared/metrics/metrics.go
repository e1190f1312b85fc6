package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "harvest"

var (
	// ItemsTotal counts processed source records by outcome (upserted, failed, filtered).
	ItemsTotal = MustRegisterCounterVec(namespace, "", "items_total",
		"Source records processed by a harvest run, by outcome.", "harvester", "status")

	// ItemDuration observes the wall time of one item pipeline.
	ItemDuration = MustRegisterHistogramVec(namespace, "", "item_duration_seconds",
		"Duration of a single item pipeline.", prometheus.ExponentialBuckets(0.05, 2, 12), "harvester")

	// MirrorBytesTotal counts bytes streamed into the blob store.
	MirrorBytesTotal = MustRegisterCounterVec(namespace, "", "mirror_bytes_total",
		"Bytes uploaded to the blob store by the resource mirror.", "provider")

	// RetriesTotal counts retried attempts by operation label.
	RetriesTotal = MustRegisterCounterVec(namespace, "", "retries_total",
		"Failed attempts that were retried.", "operation")

	// LastRunTimestamp is set when a run completes.
	LastRunTimestamp = MustRegisterGauge(namespace, "", "last_run_completed_timestamp_seconds",
		"Unix time of the last completed harvest run.")
)

// MustRegisterCounterVec creates and registers a counter vector.
func MustRegisterCounterVec(namespace, component, name, help string, labelNames ...string) *prometheus.CounterVec {
	m := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: component,
		Name:      name,
		Help:      help,
	}, labelNames)
	prometheus.MustRegister(m)
	return m
}

// MustRegisterGauge creates and registers a gauge.
func MustRegisterGauge(namespace, component, name, help string) prometheus.Gauge {
	m := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: component,
		Name:      name,
		Help:      help,
	})
	prometheus.MustRegister(m)
	return m
}

// MustRegisterHistogramVec creates and registers a histogram vector.
func MustRegisterHistogramVec(namespace, component, name, help string, buckets []float64, labelNames ...string) *prometheus.HistogramVec {
	m := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: component,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labelNames)
	prometheus.MustRegister(m)
	return m
}
