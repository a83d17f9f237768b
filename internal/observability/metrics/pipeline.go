package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

// BreakerSource is read at scrape time so breaker gauges never go stale.
type BreakerSource interface {
	BreakerStates() []domain.CircuitBreakerState
}

// PipelineMetrics exports extraction outcomes, alerts and breaker states.
// It is attached to the monitoring collector as a sink and to the alert
// system as a subscriber.
type PipelineMetrics struct {
	service string

	documentsTotal  *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	confidence      *prometheus.HistogramVec
	needsReview     *prometheus.CounterVec
	alertsTotal     *prometheus.CounterVec
	processingError *prometheus.CounterVec
}

func NewPipelineMetrics(service string, registerer prometheus.Registerer, breakers BreakerSource) *PipelineMetrics {
	documentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taxdoc",
			Subsystem: "pipeline",
			Name:      "documents_total",
			Help:      "Processed documents by strategy and outcome.",
		},
		[]string{"service", "strategy", "status"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taxdoc",
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "End-to-end extraction duration by strategy.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"service", "strategy"},
	)
	confidence := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taxdoc",
			Subsystem: "pipeline",
			Name:      "confidence",
			Help:      "Aggregate result confidence by strategy.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
		[]string{"service", "strategy"},
	)
	needsReview := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taxdoc",
			Subsystem: "pipeline",
			Name:      "needs_review_total",
			Help:      "Results flagged for manual review.",
		},
		[]string{"service", "strategy"},
	)
	alertsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taxdoc",
			Subsystem: "alerts",
			Name:      "fired_total",
			Help:      "Alerts published by type.",
		},
		[]string{"service", "type"},
	)
	processingError := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taxdoc",
			Subsystem: "pipeline",
			Name:      "errors_total",
			Help:      "Failed extractions by error code.",
		},
		[]string{"service", "code"},
	)

	registerer.MustRegister(documentsTotal, duration, confidence, needsReview, alertsTotal, processingError)
	if breakers != nil {
		registerer.MustRegister(newBreakerCollector(service, breakers))
	}

	return &PipelineMetrics{
		service:         service,
		documentsTotal:  documentsTotal,
		duration:        duration,
		confidence:      confidence,
		needsReview:     needsReview,
		alertsTotal:     alertsTotal,
		processingError: processingError,
	}
}

func (m *PipelineMetrics) ObserveProcessing(rec domain.ProcessingRecord) {
	strategy := string(rec.Strategy)
	status := "success"
	if !rec.Success {
		status = "failure"
	}
	m.documentsTotal.WithLabelValues(m.service, strategy, status).Inc()
	m.duration.WithLabelValues(m.service, strategy).Observe(rec.Duration.Seconds())
	m.confidence.WithLabelValues(m.service, strategy).Observe(rec.Confidence)
	if rec.NeedsReview {
		m.needsReview.WithLabelValues(m.service, strategy).Inc()
	}
	if rec.ErrorCode != "" {
		m.processingError.WithLabelValues(m.service, string(rec.ErrorCode)).Inc()
	}
}

func (m *PipelineMetrics) ObserveAlert(alert domain.Alert) {
	m.alertsTotal.WithLabelValues(m.service, string(alert.Type)).Inc()
}

type breakerCollector struct {
	service  string
	source   BreakerSource
	state    *prometheus.Desc
	failures *prometheus.Desc
}

func newBreakerCollector(service string, source BreakerSource) *breakerCollector {
	return &breakerCollector{
		service: service,
		source:  source,
		state: prometheus.NewDesc(
			"taxdoc_breaker_state",
			"Circuit breaker state per dependency (0 closed, 1 half-open, 2 open).",
			[]string{"service", "dependency"}, nil,
		),
		failures: prometheus.NewDesc(
			"taxdoc_breaker_consecutive_failures",
			"Consecutive failures counted by the dependency's breaker.",
			[]string{"service", "dependency"}, nil,
		),
	}
}

func (c *breakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.failures
}

func (c *breakerCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.source.BreakerStates() {
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, stateValue(s.State), c.service, s.Service)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(s.ConsecutiveFailures), c.service, s.Service)
	}
}

func stateValue(state domain.BreakerState) float64 {
	switch state {
	case domain.BreakerOpen:
		return 2
	case domain.BreakerHalfOpen:
		return 1
	default:
		return 0
	}
}
