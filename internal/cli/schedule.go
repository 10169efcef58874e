package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/BartekS5/elt/pkg/logger"
)

type ScheduleOptions struct {
	RunNow bool
}

func newScheduleCmd(root *rootOptions) *cobra.Command {
	opts := &ScheduleOptions{}

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on its schedule until interrupted",
		Long: `Triggers a run on the configured cron schedule (default @daily) in the configured
timezone. A trigger is skipped while the previous run is still in progress. When
metrics.listen is set, Prometheus metrics are served on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runScheduler(ctx, root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.RunNow, "run-now", false, "Trigger a run immediately on start")
	return cmd
}

func runScheduler(ctx context.Context, root *rootOptions, opts *ScheduleOptions) error {
	cfg := root.cfg

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := newApp(ctx, cfg, registry)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	job := func() {
		res, err := a.pipeline.Run(ctx, time.Time{})
		if err != nil {
			logger.Error("scheduled run failed", "run_id", res.RunID, "failed_steps", res.FailedSteps, "err", err)
			return
		}
		logger.Info("scheduled run succeeded", "run_id", res.RunID, "advanced", res.Advanced)
	}

	sched, err := newScheduler(cfg.Schedule, cfg.Location(), job)
	if err != nil {
		return err
	}

	var srv *http.Server
	if cfg.Metrics.Listen != "" {
		srv = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           metricsHandler(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", "addr", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "err", err)
			}
		}()
	}

	sched.Start()
	logger.Info("scheduler started", "pipeline", cfg.PipelineID, "schedule", cfg.Schedule, "timezone", cfg.Location().String())
	if opts.RunNow {
		go sched.Entries()[0].WrappedJob.Run()
	}

	<-ctx.Done()
	logger.Info("scheduler stopping, waiting for the running job")
	<-sched.Stop().Done()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

// newScheduler registers job on spec. Overlapping triggers are skipped, so at
// most one run of the pipeline is in flight per process.
func newScheduler(spec string, loc *time.Location, job func()) (*cron.Cron, error) {
	log := cronLogger{l: logger.L()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	if _, err := c.AddFunc(spec, job); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return c, nil
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
