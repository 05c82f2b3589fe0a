// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package telemetry holds the prometheus instruments shared by the
// neurostream services. Every instrument lives on the default registry
// and is served by the Handler of the owning process.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ingress
var (
	// FramesIngested counts raw frames accepted on HTTP and WebSocket ingress
	FramesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neurostream",
		Name:      "frames_ingested_total",
		Help:      "Raw EEG frames accepted at ingress.",
	}, []string{"surface"})

	// PublishErrors counts failed publishes to the raw topic
	PublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "neurostream",
		Name:      "bus_publish_errors_total",
		Help:      "Publishes to the bus that failed after retries.",
	})

	// PublishDuplicates counts frames suppressed by the dedup key
	PublishDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "neurostream",
		Name:      "bus_publish_duplicates_total",
		Help:      "Frames dropped because their dedup key was already seen.",
	})
)

// Worker
var (
	// BatchesProcessed counts raw batches fully processed by the kernel pool
	BatchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "neurostream",
		Name:      "worker_batches_processed_total",
		Help:      "Raw batches processed and re-published.",
	})

	// BatchesRetried counts batch attempts that failed and were retried
	BatchesRetried = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "neurostream",
		Name:      "worker_batches_retried_total",
		Help:      "Batch attempts that failed and were scheduled for retry.",
	})

	// BatchesDeadLettered counts batches parked on the DLQ topic
	BatchesDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "neurostream",
		Name:      "worker_batches_dead_lettered_total",
		Help:      "Batches parked on the dead-letter topic after retries were exhausted.",
	})

	// TaskDuration observes wall-clock seconds per kernel task
	TaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "neurostream",
		Name:      "worker_task_duration_seconds",
		Help:      "Wall-clock duration of one kernel task.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 45},
	})

	// KernelFailures counts kernel invocations that produced neutral outputs
	KernelFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neurostream",
		Name:      "kernel_failures_total",
		Help:      "Kernel invocations recovered into neutral outputs.",
	}, []string{"method"})
)

// Fan-out
var (
	// FanOutDeliveries counts processed batches delivered to subscribers
	FanOutDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "neurostream",
		Name:      "fanout_deliveries_total",
		Help:      "Processed batches delivered to WebSocket subscribers.",
	})

	// FanOutDrops counts subscribers dropped on failed sends
	FanOutDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "neurostream",
		Name:      "fanout_drops_total",
		Help:      "Subscribers dropped from the registry after a failed send.",
	})

	// Subscribers tracks currently connected WebSocket subscribers
	Subscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "neurostream",
		Name:      "ws_subscribers",
		Help:      "Currently connected WebSocket subscribers.",
	}, []string{"channel"})
)

// Persistence and aggregation
var (
	// RecordsPersisted counts metric records written to the store
	RecordsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "neurostream",
		Name:      "records_persisted_total",
		Help:      "Per-second metric records upserted into the store.",
	})

	// AggregationRuns counts engine runs per tier and result
	AggregationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neurostream",
		Name:      "aggregation_runs_total",
		Help:      "Aggregation engine runs.",
	}, []string{"tier", "result"})

	// AggregationUserFailures counts per-user steps rolled back
	AggregationUserFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neurostream",
		Name:      "aggregation_user_failures_total",
		Help:      "Per-user aggregation steps rolled back.",
	}, []string{"tier"})
)

// Proxy
var (
	// ProxyRequests counts proxied requests by upstream and status class
	ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "neurostream",
		Name:      "proxy_requests_total",
		Help:      "Requests forwarded to back-end services.",
	}, []string{"upstream", "code"})
)

// Handler returns the HTTP handler serving the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
