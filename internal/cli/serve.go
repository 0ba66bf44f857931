package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"krakefactory/internal/adapters/export"
	"krakefactory/internal/adapters/httpapi"
	"krakefactory/internal/blob"
	"krakefactory/internal/core"
)

// DefaultShutdownTimeout bounds graceful shutdown when http.shutdown_timeout is unset.
const DefaultShutdownTimeout = 15 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string

	// ready, when set, receives the bound address once the server listens.
	ready func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return WrapExitError(ExitFailure, "register metrics", err)
	}
	metrics := core.MultiMetricsRecorder{prom, core.NewExpvarMetricsRecorder("")}

	a, err := opts.openApp(ctx, cmd, core.WithMetricsRecorder(metrics))
	if err != nil {
		return err
	}
	cfg := a.cfg
	logger := a.logger

	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = a.Close()
		return WrapExitError(ExitFailure, "open blob store", err)
	}

	worker := export.NewWorker(a.svc, blobs,
		export.WithLogger(logger),
		export.WithQueueSize(cfg.Export.QueueSize),
		export.WithRetention(cfg.Export.Retention),
		export.WithMaxFinished(cfg.Export.MaxFinished),
	)
	worker.Start()

	server := httpapi.New(a.svc,
		httpapi.WithLogger(logger),
		httpapi.WithExports(worker),
		httpapi.WithBlobStore(blobs),
		httpapi.WithLabelRenderer(export.NewLabelRenderer(cfg.Label.DefaultWidthMM, cfg.Label.DefaultHeightMM)),
		httpapi.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		httpapi.WithDebugVars(),
		httpapi.WithStaticDir(cfg.HTTP.StaticDir),
		httpapi.WithBodyLimit(cfg.HTTP.BodyLimit),
	)

	addr := cfg.HTTP.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	if err := server.Start(addr); err != nil {
		_ = worker.Stop(context.Background())
		_ = a.Close()
		return WrapExitError(ExitFailure, "start http server", err)
	}
	logger.Info("krakefactory started", "addr", server.Addr(), "storage", cfg.Storage.Driver, "blob", blobs.Driver())
	if opts.ready != nil {
		opts.ready(server.Addr())
	}

	<-ctx.Done()
	logger.Info("shutting down")

	timeout := cfg.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err = errors.Join(
		server.Shutdown(shutdownCtx),
		worker.Stop(shutdownCtx),
		a.Close(),
	)
	if err != nil {
		logger.Error("shutdown incomplete", "error", err)
		return WrapExitError(ExitFailure, "shutdown", err)
	}
	logger.Info("shutdown complete")
	return nil
}
