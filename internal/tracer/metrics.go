package tracer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pgpathwatch/pgpathwatch/internal/transport"
	"github.com/pgpathwatch/pgpathwatch/internal/util"
)

type metrics struct {
	records    prometheus.Counter
	kernelLost prometheus.Counter
	ringDrops  prometheus.CounterFunc
}

func newMetrics(reg prometheus.Registerer, ring *transport.Ring) *metrics {
	m := &metrics{
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgpathwatch_tracer_records_total",
			Help: "Total number of raw records read from the kernel perf ring.",
		}),
		kernelLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgpathwatch_tracer_kernel_lost_records_total",
			Help: "Total number of records the kernel perf ring dropped before user space read them.",
		}),
		ringDrops: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "pgpathwatch_tracer_transport_dropped_records_total",
			Help: "Total number of records evicted from the user-space transport ring under backpressure.",
		}, func() float64 {
			return float64(ring.Drops())
		}),
	}

	if reg != nil {
		m.records = util.MustRegisterOrGet(reg, m.records).(prometheus.Counter)
		m.kernelLost = util.MustRegisterOrGet(reg, m.kernelLost).(prometheus.Counter)
		reg.MustRegister(m.ringDrops)
	}

	return m
}
