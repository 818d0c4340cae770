// Package tracer owns the kernel side of a trace session: loading the
// compiled probe collection, rewriting its layout constants for the target
// binary, attaching the uprobes, and draining the perf ring into the
// user-space transport.
package tracer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/perf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pgpathwatch/pgpathwatch/internal/pglayout"
	"github.com/pgpathwatch/pgpathwatch/internal/transport"
)

// ObjectName is the compiled probe collection shipped alongside the binary.
const ObjectName = "pgpathwatch.bpf.o"

// perfPageCount sizes the kernel perf ring per CPU, in pages.
const perfPageCount = 2048

// Program and map names inside the collection.
const (
	progAddPath        = "uprobe_add_path"
	progSetRelPathlist = "uprobe_set_rel_pathlist"
	progCreatePlan     = "uprobe_create_plan"
	mapPlanEvents      = "plan_events"
)

// Config describes one trace session.
type Config struct {
	Logger     log.Logger
	Registerer prometheus.Registerer

	// BinaryPath is the postgres executable to instrument.
	BinaryPath string

	// Layout must already be resolved for BinaryPath.
	Layout *pglayout.StructLayout

	// ObjectPath overrides the default search for the compiled probes.
	ObjectPath string

	// Ring receives every raw record read from the kernel.
	Ring *transport.Ring
}

// Session is an attached trace. Attachment happens in Run; once Run
// returns, all probes are detached and kernel resources released.
type Session struct {
	cfg     Config
	logger  log.Logger
	metrics *metrics
}

// New validates cfg. It performs no kernel operations yet.
func New(cfg Config) (*Session, error) {
	if cfg.BinaryPath == "" {
		return nil, errors.New("tracer: binary path required")
	}
	if cfg.Layout == nil {
		return nil, errors.New("tracer: resolved layout required")
	}
	if cfg.Ring == nil {
		return nil, errors.New("tracer: transport ring required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Session{
		cfg:     cfg,
		logger:  logger,
		metrics: newMetrics(cfg.Registerer, cfg.Ring),
	}, nil
}

// layoutConstants mirrors struct layout_cfg in bpf/pgpathwatch.bpf.c.
type layoutConstants struct {
	PathCategory    uint64
	PathParent      uint64
	PathRows        uint64
	PathStartupCost uint64
	PathTotalCost   uint64
	JoinCategory    uint64
	JoinOuter       uint64
	JoinInner       uint64
	RelIndex        uint64
	RTEKind         uint64
	RTEOID          uint64
}

func constantsFor(f pglayout.FieldOffsets) layoutConstants {
	return layoutConstants{
		PathCategory:    f.PathCategory,
		PathParent:      f.PathParent,
		PathRows:        f.PathRows,
		PathStartupCost: f.PathStartupCost,
		PathTotalCost:   f.PathTotalCost,
		JoinCategory:    f.JoinCategory,
		JoinOuter:       f.JoinOuter,
		JoinInner:       f.JoinInner,
		RelIndex:        f.RelIndex,
		RTEKind:         f.RTEKind,
		RTEOID:          f.RTEOID,
	}
}

// AttachTargets reports the symbol/address pairs Run will instrument, for
// diagnostics and dry runs.
func (s *Session) AttachTargets() map[string]uint64 {
	return map[string]uint64{
		pglayout.SymAddPath:        s.cfg.Layout.Funcs.AddPath,
		pglayout.SymSetRelPathlist: s.cfg.Layout.Funcs.SetRelPathlist,
		pglayout.SymCreatePlan:     s.cfg.Layout.Funcs.CreatePlan,
	}
}

// Run attaches the probes and drains records into the ring until ctx is
// cancelled. Attach failures are fatal for the session.
func (s *Session) Run(ctx context.Context) error {
	if err := rlimit.RemoveMemlock(); err != nil {
		return fmt.Errorf("raise memlock limit: %w", err)
	}

	objPath, err := s.findObject()
	if err != nil {
		return err
	}
	spec, err := ebpf.LoadCollectionSpec(objPath)
	if err != nil {
		return fmt.Errorf("load probe collection %s: %w", objPath, err)
	}
	if err := spec.RewriteConstants(map[string]interface{}{
		"LAYOUT": constantsFor(s.cfg.Layout.Fields),
	}); err != nil {
		return fmt.Errorf("rewrite layout constants: %w", err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return fmt.Errorf("load probes into kernel: %w", err)
	}
	defer coll.Close()

	links, err := s.attach(coll)
	if err != nil {
		return err
	}
	defer func() {
		for _, l := range links {
			_ = l.Close()
		}
	}()

	events, ok := coll.Maps[mapPlanEvents]
	if !ok {
		return fmt.Errorf("probe collection has no %s map", mapPlanEvents)
	}
	rd, err := perf.NewReader(events, perfPageCount*os.Getpagesize())
	if err != nil {
		return fmt.Errorf("open perf reader: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = rd.Close()
	}()

	level.Info(s.logger).Log("msg", "tracing plan alternatives", "binary", s.cfg.BinaryPath, "object", objPath)
	for {
		rec, err := rd.Read()
		if err != nil {
			if errors.Is(err, perf.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read perf record: %w", err)
		}
		if rec.LostSamples > 0 {
			// Lost wholesale by the kernel ring before we ever saw
			// them; reported, never retried.
			s.metrics.kernelLost.Add(float64(rec.LostSamples))
			continue
		}
		s.metrics.records.Inc()
		s.cfg.Ring.Write(rec.RawSample)
	}
}

// attach wires each program to its resolved address. Addresses come from
// the layout resolver rather than the link package's own symbol search, so
// a binary that confuses the latter still attaches correctly.
func (s *Session) attach(coll *ebpf.Collection) ([]link.Link, error) {
	ex, err := link.OpenExecutable(s.cfg.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("open executable %s: %w", s.cfg.BinaryPath, err)
	}

	targets := []struct {
		symbol string
		prog   string
		addr   uint64
	}{
		{pglayout.SymSetRelPathlist, progSetRelPathlist, s.cfg.Layout.Funcs.SetRelPathlist},
		{pglayout.SymAddPath, progAddPath, s.cfg.Layout.Funcs.AddPath},
		{pglayout.SymCreatePlan, progCreatePlan, s.cfg.Layout.Funcs.CreatePlan},
	}

	var links []link.Link
	for _, t := range targets {
		prog, ok := coll.Programs[t.prog]
		if !ok {
			closeAll(links)
			return nil, fmt.Errorf("probe collection has no program %s", t.prog)
		}
		l, err := ex.Uprobe(t.symbol, prog, &link.UprobeOptions{Address: t.addr})
		if err != nil {
			closeAll(links)
			return nil, fmt.Errorf("attach uprobe %s at %#x: %w", t.symbol, t.addr, err)
		}
		level.Debug(s.logger).Log("msg", "attached uprobe", "symbol", t.symbol, "addr", fmt.Sprintf("%#x", t.addr))
		links = append(links, l)
	}
	return links, nil
}

func closeAll(links []link.Link) {
	for _, l := range links {
		_ = l.Close()
	}
}

// findObject locates the compiled probe collection: an explicit override,
// then next to the running executable, then the system install location.
func (s *Session) findObject() (string, error) {
	if s.cfg.ObjectPath != "" {
		if _, err := os.Stat(s.cfg.ObjectPath); err != nil {
			return "", fmt.Errorf("probe object: %w", err)
		}
		return s.cfg.ObjectPath, nil
	}

	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), ObjectName))
	}
	candidates = append(candidates,
		filepath.Join("/usr/lib/pgpathwatch", ObjectName),
		filepath.Join("bpf", ObjectName),
	)
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("probe object %s not found (searched %v); set --bpf-object", ObjectName, candidates)
}
