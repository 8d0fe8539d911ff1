// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scans counts scan attempts by outcome.
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "scans_total",
		Help:      "QR scan attempts by result.",
	}, []string{"result"})

	// QRGenerated counts QR tokens issued by teachers.
	QRGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "qr_generated_total",
		Help:      "QR tokens generated.",
	})

	// SuspiciousFlagged counts scan records flagged by the device heuristic.
	SuspiciousFlagged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "suspicious_flagged_total",
		Help:      "Scan records flagged as suspicious.",
	})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected by the rate limiter.",
	})

	// RequestDuration observes handler latency.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
