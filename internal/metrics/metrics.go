// Package metrics exposes Prometheus collectors for the detection
// engine. All metrics share the ps_ prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ps_detections_total",
			Help: "Detection requests by method",
		},
		[]string{"method"},
	)

	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ps_findings_total",
			Help: "PII findings by type and sensitivity",
		},
		[]string{"pii_type", "sensitivity"},
	)

	RuleEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ps_rule_evaluations_total",
			Help: "Rule evaluations by outcome",
		},
		[]string{"outcome"},
	)

	CacheHitRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ps_cache_hit_ratio",
			Help: "Detection cache hit ratio",
		},
		[]string{"tier"},
	)

	AnalyzerErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ps_analyzer_errors_total",
			Help: "ML analyzer failures",
		},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ps_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
