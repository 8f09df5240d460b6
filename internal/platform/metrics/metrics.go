package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-level Prometheus metrics.
type Metrics struct {
	Registry    *prometheus.Registry
	BuildInfo   *prometheus.GaugeVec
	BackendInfo *prometheus.GaugeVec
}

// New creates a registry with Go and process collectors and registers the
// process-level metrics on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		BuildInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contentsync_build_info",
			Help: "Build information, value is always 1",
		}, []string{"version"}),
		BackendInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "contentsync_backend_info",
			Help: "Change source backend in use, value is always 1",
		}, []string{"backend", "path"}),
	}
}

// SetInfo records the running version and backend.
func (m *Metrics) SetInfo(version, backend, path string) {
	m.BuildInfo.WithLabelValues(version).Set(1)
	m.BackendInfo.WithLabelValues(backend, path).Set(1)
}
