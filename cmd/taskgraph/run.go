package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aristath/taskgraph/internal/config"
	"github.com/aristath/taskgraph/internal/ctxlog"
	"github.com/aristath/taskgraph/internal/events"
	"github.com/aristath/taskgraph/internal/metrics"
	"github.com/aristath/taskgraph/internal/persistence"
	"github.com/aristath/taskgraph/internal/report"
	"github.com/aristath/taskgraph/internal/scheduler"
	"github.com/aristath/taskgraph/internal/tracing"
)

type runFlags struct {
	workers     int
	metricsAddr string
	trace       bool
	history     string
}

func newRunCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Build and run a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, args[0], f)
		},
	}
	cmd.Flags().IntVar(&f.workers, "workers", 0, "worker pool size for ConcurrentGraph (overrides the file)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	cmd.Flags().BoolVar(&f.trace, "trace", false, "print OpenTelemetry spans for the run to stderr")
	cmd.Flags().StringVar(&f.history, "history", "", "record the run in this SQLite history database")
	return cmd
}

func runPipeline(cmd *cobra.Command, path string, f runFlags) error {
	ctx := cmd.Context()
	logger := ctxlog.FromContext(ctx)

	bus := events.NewEventBus()
	defer bus.Close()

	var consumers sync.WaitGroup

	if f.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		collector, err := metrics.New(reg)
		if err != nil {
			return err
		}
		if err := metrics.RegisterDrops(reg, bus); err != nil {
			return err
		}
		ch := bus.SubscribeAll(256)
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			collector.Consume(ctx, ch)
		}()

		srv := &http.Server{
			Addr:              f.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", f.metricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", f.metricsAddr)
	}

	if f.trace {
		tp, err := tracing.NewStdoutProvider(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Warn("flushing spans failed", "error", err)
			}
		}()

		rec := tracing.NewRecorder(tp)
		ch := bus.SubscribeAll(256)
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			rec.Consume(ctx, ch)
		}()
	}

	if f.history != "" {
		store, err := persistence.NewSQLiteStore(ctx, f.history)
		if err != nil {
			return err
		}
		defer store.Close()

		// Outcome events must still be written after an interrupt.
		rec := persistence.NewRecorder(store, path, logger)
		ch := bus.SubscribeAll(256)
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			rec.Consume(context.WithoutCancel(ctx), ch)
		}()
	}

	var edit func(*config.PipelineConfig)
	if cmd.Flags().Changed("workers") {
		edit = func(cfg *config.PipelineConfig) { cfg.Graph.Options.Workers = f.workers }
	}
	p, err := load(ctx, path, edit, scheduler.WithPublisher(bus))
	if err != nil {
		return err
	}

	out, runErr := p.Run(ctx)

	// Closing the bus ends the consumers once they have drained.
	bus.Close()
	consumers.Wait()

	fmt.Fprintln(cmd.OutOrStdout(), report.Summary(path, p.Runner.Tasks()))
	if runErr != nil {
		return runErr
	}
	fmt.Fprintf(cmd.OutOrStdout(), "output: %s\n", out)
	return nil
}
