// Package build carries version information injected at link time.
package build

import (
	"fmt"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

// Populated via -ldflags at build time.
var (
	Version  = "v0.0.0"
	Revision = "unknown"
	Branch   = "unknown"
)

// Print returns a one-line version string for program.
func Print(program string) string {
	return fmt.Sprintf("%s %s (branch: %s, revision: %s, %s)",
		program, Version, Branch, Revision, runtime.Version())
}

// NewCollector returns a collector exporting the build info of program as a
// constant metric.
func NewCollector(program string) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: program,
			Name:      "build_info",
			Help: fmt.Sprintf(
				"A metric with a constant '1' value labeled by version, revision, branch, and goversion from which %s was built.",
				program,
			),
			ConstLabels: prometheus.Labels{
				"version":   Version,
				"revision":  Revision,
				"branch":    Branch,
				"goversion": runtime.Version(),
			},
		},
		func() float64 { return 1 },
	)
}
