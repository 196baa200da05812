package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the proxy. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	RequestTotal      *prometheus.CounterVec
	RequestDurationMs *prometheus.HistogramVec
	StreamAbortTotal  *prometheus.CounterVec
	ErrorFrameTotal   *prometheus.CounterVec
	TestResultTotal   *prometheus.CounterVec
	DiscoveryTotal    *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ccproxy_request_total",
			Help: "Total number of proxied requests by upstream status.",
		}, []string{"provider", "status", "stream"}),

		RequestDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ccproxy_request_duration_ms",
			Help:    "Proxied request duration in milliseconds, until the last byte is relayed.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 300000},
		}, []string{"provider", "stream"}),

		StreamAbortTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ccproxy_stream_abort_total",
			Help: "Client connections deliberately aborted to force a client retry.",
		}, []string{"provider", "reason"}),

		ErrorFrameTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ccproxy_stream_error_frame_total",
			Help: "In-band error frames seen in upstream streams.",
		}, []string{"provider"}),

		TestResultTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ccproxy_test_result_total",
			Help: "Provider test outcomes.",
		}, []string{"provider", "result"}),

		DiscoveryTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ccproxy_model_discovery_total",
			Help: "Model discovery attempts by outcome.",
		}, []string{"provider", "outcome"}),
	}
}

// Abort reasons for RecordStreamAbort.
const (
	AbortErrorFrames  = "error_frames"
	AbortUpstreamFail = "upstream_failure"
)

// RecordRequest records metrics for a completed proxied request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	if m == nil {
		return
	}
	stream := strconv.FormatBool(labels.Stream)
	m.RequestTotal.WithLabelValues(labels.Provider, labels.Status, stream).Inc()
	m.RequestDurationMs.WithLabelValues(labels.Provider, stream).Observe(labels.DurationMs)
}

func (m *Metrics) RecordStreamAbort(provider, reason string) {
	if m == nil {
		return
	}
	m.StreamAbortTotal.WithLabelValues(provider, reason).Inc()
}

func (m *Metrics) RecordErrorFrame(provider string) {
	if m == nil {
		return
	}
	m.ErrorFrameTotal.WithLabelValues(provider).Inc()
}

func (m *Metrics) RecordTestResult(provider, result string) {
	if m == nil {
		return
	}
	m.TestResultTotal.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) RecordDiscovery(provider, outcome string) {
	if m == nil {
		return
	}
	m.DiscoveryTotal.WithLabelValues(provider, outcome).Inc()
}

// RequestLabels holds the label values for recording a request.
type RequestLabels struct {
	Provider   string
	Status     string
	Stream     bool
	DurationMs float64
}
