package inspect

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/vtinspect/pkg/valueobject"
)

type metrics struct {
	recomputes *prometheus.CounterVec
	entries    prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		recomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vtinspect_node_recomputes_total",
			Help: "Total number of value node computations by node kind and outcome.",
		}, []string{"kind", "outcome"}),
		entries: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vtinspect_vtable_entries",
			Help:    "Number of entries of the vtables found.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.recomputes, m.entries)
	}
	return m
}

// observe records the outcome of the last computation of n.
func (m *metrics) observe(n valueobject.Node) {
	outcome := "valid"
	if n.State() != valueobject.StateValid {
		outcome = errorKind(n.Err())
	}
	m.recomputes.WithLabelValues(n.Kind().String(), outcome).Inc()
}
