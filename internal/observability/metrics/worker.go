package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
)

// WorkerMetrics covers queue consumption; extraction outcomes themselves
// are exported by PipelineMetrics on the same registry.
type WorkerMetrics struct {
	exporter

	jobs      *prometheus.CounterVec
	jobTime   *prometheus.HistogramVec
	busy      prometheus.Gauge
	queueWait prometheus.Histogram
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	m := &WorkerMetrics{exporter: newExporter(service)}
	m.jobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "worker",
		Name:        "jobs_total",
		Help:        "Queued documents consumed, by strategy and result.",
		ConstLabels: m.service,
	}, []string{"strategy", "result"})
	m.jobTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   "worker",
		Name:        "job_seconds",
		Help:        "Time spent on one queued document.",
		ConstLabels: m.service,
		Buckets:     []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"result"})
	m.busy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "worker",
		Name:        "jobs_running",
		Help:        "Documents currently being processed by this worker.",
		ConstLabels: m.service,
	})
	m.queueWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   "worker",
		Name:        "queue_wait_seconds",
		Help:        "Time a document waited between upload and pickup.",
		ConstLabels: m.service,
		Buckets:     prometheus.ExponentialBuckets(0.1, 2.5, 10),
	})

	m.registry.MustRegister(m.jobs, m.jobTime, m.busy, m.queueWait)
	return m
}

func (m *WorkerMetrics) StartDocument() {
	m.busy.Inc()
}

// FinishDocument closes a job opened by StartDocument. Strategy is empty
// when the document failed before extraction.
func (m *WorkerMetrics) FinishDocument(strategy domain.Strategy, took time.Duration, err error) {
	m.busy.Dec()

	result := "ok"
	if err != nil {
		result = string(domain.CodeOf(err))
	}
	label := "none"
	if strategy != "" {
		label = string(strategy)
	}
	m.jobs.WithLabelValues(label, result).Inc()
	m.jobTime.WithLabelValues(resultClass(err)).Observe(took.Seconds())
}

func (m *WorkerMetrics) ObserveQueueWait(wait time.Duration) {
	if wait >= 0 {
		m.queueWait.Observe(wait.Seconds())
	}
}

func resultClass(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
