// Package metrics owns the Prometheus registry and the metric sets for the
// consumer pipeline and the queue clients.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the process-wide Prometheus registry. A dedicated registry
// keeps the scrape surface limited to what this package registers.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns the HTTP handler serving the registry's metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// MustRegister registers collectors with the process registry, panicking on
// duplicate registration.
func MustRegister(cs ...prometheus.Collector) {
	Registry.MustRegister(cs...)
}
