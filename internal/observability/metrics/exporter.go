package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taxdoc"

// exporter owns a private registry served on a process's /metrics route.
// Other collectors (pipeline, breakers) join it through Registry.
type exporter struct {
	registry *prometheus.Registry
	service  prometheus.Labels
}

func newExporter(service string) exporter {
	return exporter{
		registry: prometheus.NewRegistry(),
		service:  prometheus.Labels{"service": service},
	}
}

func (e exporter) Registry() *prometheus.Registry {
	return e.registry
}

func (e exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}
