package reconstruct

import (
	"context"
	"errors"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pgpathwatch/pgpathwatch/internal/probe"
	"github.com/pgpathwatch/pgpathwatch/internal/transport"
)

// Sink receives decoded alternatives in arrival order.
type Sink interface {
	Write(ctx context.Context, alt *PlanAlternative) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, alt *PlanAlternative) error

func (f SinkFunc) Write(ctx context.Context, alt *PlanAlternative) error { return f(ctx, alt) }

// Reconstructor is the single-threaded consumer of the event transport. It
// decodes records, converts the raw numeric encodings, and forwards each
// alternative in arrival order. The only state it keeps across records is
// the session sequence counter and the session start timestamp.
type Reconstructor struct {
	logger  log.Logger
	src     *transport.Ring
	sink    Sink
	metrics *metrics

	// pids, when non-empty, restricts the output to these processes.
	pids map[uint32]struct{}

	seq   uint64
	start uint64
}

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithPIDFilter restricts output to the given process ids. An empty list
// means all processes.
func WithPIDFilter(pids []uint32) Option {
	return func(r *Reconstructor) {
		if len(pids) == 0 {
			return
		}
		r.pids = make(map[uint32]struct{}, len(pids))
		for _, pid := range pids {
			r.pids[pid] = struct{}{}
		}
	}
}

// New returns a reconstructor consuming src and forwarding to sink.
func New(logger log.Logger, reg prometheus.Registerer, src *transport.Ring, sink Sink, opts ...Option) *Reconstructor {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	r := &Reconstructor{
		logger:  logger,
		src:     src,
		sink:    sink,
		metrics: newMetrics(reg),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run consumes records until ctx is cancelled or the transport closes.
// Cancellation takes effect between records; no record is half-processed.
func (r *Reconstructor) Run(ctx context.Context) error {
	for {
		rec, err := r.src.Read(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		var ev probe.RawEvent
		if err := ev.Decode(rec); err != nil {
			r.metrics.decodeErrors.Inc()
			level.Warn(r.logger).Log("msg", "undecodable plan event record", "err", err)
			continue
		}
		if r.pids != nil {
			if _, ok := r.pids[ev.PID]; !ok {
				continue
			}
		}

		if r.start == 0 {
			r.start = ev.Timestamp
		}
		r.seq++
		alt := Decode(&ev, r.seq, r.start)
		r.metrics.recordsTotal.WithLabelValues(alt.Kind).Inc()

		if err := r.sink.Write(ctx, alt); err != nil {
			return err
		}
	}
}
