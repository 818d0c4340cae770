package util

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// MustRegisterOrGet registers c with reg, returning the previously
// registered collector when one with the same descriptor already exists.
// Any other registration failure panics.
func MustRegisterOrGet(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		already := prometheus.AlreadyRegisteredError{}
		if errors.As(err, &already) {
			return already.ExistingCollector
		}
		panic(err)
	}
	return c
}
