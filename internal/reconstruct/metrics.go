package reconstruct

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pgpathwatch/pgpathwatch/internal/util"
)

type metrics struct {
	recordsTotal *prometheus.CounterVec
	decodeErrors prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pgpathwatch_reconstruct_records_total",
			Help: "Total number of plan event records decoded, by event kind.",
		}, []string{"kind"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pgpathwatch_reconstruct_decode_errors_total",
			Help: "Total number of transport records that failed to decode.",
		}),
	}

	if reg != nil {
		m.recordsTotal = util.MustRegisterOrGet(reg, m.recordsTotal).(*prometheus.CounterVec)
		m.decodeErrors = util.MustRegisterOrGet(reg, m.decodeErrors).(prometheus.Counter)
	}

	return m
}
