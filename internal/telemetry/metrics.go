// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metric vectors follow the Namespace/Subsystem convention of
// jobs/pkg/jobs/metrics.go, renamed into the ocr_core domain.
var (
	JobsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocr_core",
			Subsystem: "jobs",
			Name:      "submitted_total",
			Help:      "Total number of jobs submitted for processing.",
		},
		[]string{"client_id"},
	)

	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocr_core",
			Subsystem: "jobs",
			Name:      "completed_total",
			Help:      "Total number of jobs that reached a terminal state.",
		},
		[]string{"status"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ocr_core",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of a job from queued to terminal.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 15),
		},
		[]string{"status"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ocr_core",
			Subsystem: "jobs",
			Name:      "queue_depth",
			Help:      "Number of jobs currently queued awaiting a worker slot.",
		},
	)

	OCRRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocr_core",
			Subsystem: "dispatcher",
			Name:      "ocr_requests_total",
			Help:      "Total OCR backend requests, labeled by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)

	OCRRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ocr_core",
			Subsystem: "dispatcher",
			Name:      "ocr_request_duration_seconds",
			Help:      "Duration of a single OCR backend call.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"backend"},
	)

	BlocksMissingTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ocr_core",
			Subsystem: "verify",
			Name:      "blocks_missing_total",
			Help:      "Blocks absent from the first-pass OCR response, by whether the single-block retry recovered them.",
		},
		[]string{"recovered"},
	)

	DebounceFlushTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ocr_core",
			Subsystem: "debounce",
			Name:      "flush_total",
			Help:      "Number of durable status writes the debounced updater performed.",
		},
	)

	DebounceDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ocr_core",
			Subsystem: "debounce",
			Name:      "dropped_total",
			Help:      "Number of intermediate progress updates coalesced away by the debouncer.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		JobsSubmittedTotal,
		JobsCompletedTotal,
		JobDuration,
		QueueDepth,
		OCRRequestsTotal,
		OCRRequestDuration,
		BlocksMissingTotal,
		DebounceFlushTotal,
		DebounceDroppedTotal,
	)
}
