package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeKey struct{}

// HTTPServerMetrics instruments the API. Requests are labelled by route
// template so document and result IDs do not explode cardinality.
type HTTPServerMetrics struct {
	exporter

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge
	rejected *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	m := &HTTPServerMetrics{exporter: newExporter(service)}
	m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "api",
		Name:        "requests_total",
		Help:        "API requests by route, method and status code.",
		ConstLabels: m.service,
	}, []string{"route", "method", "code"})
	m.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   "api",
		Name:        "request_seconds",
		Help:        "API request latency by route.",
		ConstLabels: m.service,
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"route", "method"})
	m.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   "api",
		Name:        "requests_in_flight",
		Help:        "API requests currently being served.",
		ConstLabels: m.service,
	})
	m.rejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   "api",
		Name:        "rejected_total",
		Help:        "Requests turned away by rate limiting, backpressure or auth.",
		ConstLabels: m.service,
	}, []string{"reason"})

	m.registry.MustRegister(m.requests, m.latency, m.inFlight, m.rejected)
	return m
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	route := promhttp.WithLabelFromCtx("route", func(ctx context.Context) string {
		r, _ := ctx.Value(routeKey{}).(string)
		return r
	})
	instrumented := promhttp.InstrumentHandlerInFlight(m.inFlight,
		promhttp.InstrumentHandlerCounter(m.requests,
			promhttp.InstrumentHandlerDuration(m.latency, next, route),
			route,
		),
	)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), routeKey{}, routeTemplate(r.URL.Path))
		instrumented.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *HTTPServerMetrics) RecordRejected(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func routeTemplate(path string) string {
	const documents, results = "/v1/documents/", "/v1/results/"
	switch {
	case path == documents+"process":
		return path
	case strings.HasPrefix(path, documents):
		return documents + "{document_id}"
	case strings.HasPrefix(path, results) && strings.HasSuffix(path, "/corrections"):
		return results + "{result_id}/corrections"
	case strings.HasPrefix(path, results):
		return results + "{result_id}"
	}
	return path
}
