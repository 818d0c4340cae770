package watchcli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pgpathwatch/pgpathwatch/internal/build"
	"github.com/pgpathwatch/pgpathwatch/internal/catalog"
	"github.com/pgpathwatch/pgpathwatch/internal/discover"
	"github.com/pgpathwatch/pgpathwatch/internal/nodetag"
	"github.com/pgpathwatch/pgpathwatch/internal/output"
	"github.com/pgpathwatch/pgpathwatch/internal/pglayout"
	"github.com/pgpathwatch/pgpathwatch/internal/reconstruct"
	"github.com/pgpathwatch/pgpathwatch/internal/tracer"
	"github.com/pgpathwatch/pgpathwatch/internal/transport"
)

type runOptions struct {
	binaryPath  string
	pids        []uint32
	nodetags    string
	jsonOut     bool
	outputFile  string
	conninfo    string
	bpfObject   string
	ringSize    int
	metricsAddr string
	verbose     bool
	dryRun      bool
}

func runCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run -x /path/to/postgres [flags]",
		Short: "Attach to a running PostgreSQL server and trace considered plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run()
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.binaryPath, "exec", "x", "", "path to the postgres binary to instrument (required)")
	pids := f.Int32SliceP("pid", "p", nil, "restrict output to these backend PIDs (repeatable; default all)")
	f.StringVarP(&opts.nodetags, "nodetags", "n", "", "path to the server's nodetags.h for category labels")
	f.BoolVarP(&opts.jsonOut, "json", "j", false, "emit one JSON object per record")
	f.StringVarP(&opts.outputFile, "output", "o", "", "write the trace to a file instead of stdout")
	f.StringVar(&opts.conninfo, "conninfo", "", "connection string for resolving relation names (optional)")
	f.StringVar(&opts.bpfObject, "bpf-object", "", "path to the compiled probe object")
	f.IntVar(&opts.ringSize, "ring-size", 8192, "user-space transport capacity in records")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (optional)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	f.BoolVar(&opts.dryRun, "dry-run", false, "resolve the layout and print attach targets without tracing")
	_ = cmd.MarkFlagRequired("exec")

	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		for _, pid := range *pids {
			if pid > 0 {
				opts.pids = append(opts.pids, uint32(pid))
			}
		}
	}

	return cmd
}

func (opts *runOptions) newLogger() log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	if opts.verbose {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	return log.With(logger, "ts", log.DefaultTimestampUTC)
}

func (opts *runOptions) run() error {
	logger := opts.newLogger()

	if _, err := os.Stat(opts.binaryPath); err != nil {
		return fmt.Errorf("target binary: %w", err)
	}
	if !opts.dryRun && os.Geteuid() != 0 {
		return errors.New("attaching probes requires root privileges")
	}

	layout, err := pglayout.Resolve(logger, opts.binaryPath)
	if err != nil {
		return err
	}
	level.Info(logger).Log("msg", "resolved target layout", "layout", layout)

	tags := nodetag.Builtin()
	if opts.nodetags != "" {
		tags, err = nodetag.LoadFile(opts.nodetags)
		if err != nil {
			return err
		}
		level.Debug(logger).Log("msg", "loaded node tags", "count", tags.Len(), "file", opts.nodetags)
	}

	if pids, err := discover.Instances(opts.binaryPath); err == nil {
		level.Info(logger).Log("msg", "discovered running instances", "count", len(pids))
	} else {
		level.Debug(logger).Log("msg", "instance discovery failed", "err", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(build.NewCollector("pgpathwatch"))

	ring := transport.NewRing(opts.ringSize)
	session, err := tracer.New(tracer.Config{
		Logger:     logger,
		Registerer: reg,
		BinaryPath: opts.binaryPath,
		Layout:     layout,
		ObjectPath: opts.bpfObject,
		Ring:       ring,
	})
	if err != nil {
		return err
	}

	if opts.dryRun {
		fmt.Println("dry run; would attach:")
		for sym, addr := range session.AttachTargets() {
			fmt.Printf("  %-18s %#x\n", sym, addr)
		}
		return nil
	}

	out := io.Writer(os.Stdout)
	if opts.outputFile != "" {
		f, err := os.Create(opts.outputFile)
		if err != nil {
			return fmt.Errorf("open output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	var resolver *catalog.Resolver
	if opts.conninfo != "" {
		resolver, err = catalog.Connect(context.Background(), logger, opts.conninfo)
		if err != nil {
			level.Warn(logger).Log("msg", "catalog resolver unavailable, identifiers stay numeric", "err", err)
			resolver = nil
		} else {
			defer resolver.Close()
		}
	}

	var sink reconstruct.Sink
	if opts.jsonOut {
		sink = output.NewJSON(out)
	} else {
		output.Banner(out, opts.binaryPath, opts.pids)
		sink = output.NewConsole(out, tags, resolver)
	}

	recon := reconstruct.New(logger, reg, ring, sink, reconstruct.WithPIDFilter(opts.pids))

	var g run.Group
	g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))

	sessionCtx, cancelSession := context.WithCancel(context.Background())
	g.Add(func() error {
		defer ring.Close()
		return session.Run(sessionCtx)
	}, func(error) {
		cancelSession()
	})

	reconCtx, cancelRecon := context.WithCancel(context.Background())
	g.Add(func() error {
		return recon.Run(reconCtx)
	}, func(error) {
		cancelRecon()
	})

	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:    opts.metricsAddr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		g.Add(func() error {
			level.Info(logger).Log("msg", "metrics listener started", "addr", opts.metricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})
	}

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		level.Info(logger).Log("msg", "detaching", "signal", sig.Signal)
		return nil
	}
	return err
}
