package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds run-level collectors.
type Metrics struct {
	items     *prometheus.GaugeVec
	groups    *prometheus.GaugeVec
	consensus *prometheus.CounterVec
	finalize  *prometheus.CounterVec
	duration  prometheus.Gauge
}

// NewMetrics registers workflow collectors with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		items: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "archivist",
			Subsystem: "workflow",
			Name:      "items",
			Help:      "Items by status at the end of the run",
		}, []string{"status"}),
		groups: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "archivist",
			Subsystem: "workflow",
			Name:      "groups",
			Help:      "Discovered groups by type",
		}, []string{"type"}),
		consensus: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archivist",
			Subsystem: "consensus",
			Name:      "resolutions_total",
			Help:      "Consensus resolutions by source",
		}, []string{"source"}),
		finalize: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archivist",
			Subsystem: "finalize",
			Name:      "items_total",
			Help:      "Finalize outcomes per member",
		}, []string{"outcome"}),
		duration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "archivist",
			Subsystem: "workflow",
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run",
		}),
	}
}
