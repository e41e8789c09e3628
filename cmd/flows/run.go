package main

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

	"github.com/aretw0/flows"
	"github.com/aretw0/flows/pkg/domain"
	"github.com/aretw0/flows/pkg/notify"
	"github.com/aretw0/flows/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <process> [input]",
	Short: "Run a demo process",
	Long:  `Runs the named demo process with the given input and prints its output. SIGINT and SIGTERM stop the whole flow.`,
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, s, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := newLogger(s)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		hooks := observability.LogHooks(logger)
		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			reg := prometheus.NewRegistry()
			metrics, err := observability.NewMetrics(reg)
			if err != nil {
				return err
			}
			hooks = observability.Combine(hooks, metrics.Hooks())
			shutdown := serveMetrics(addr, reg, logger)
			defer shutdown()
		}

		eng, err := newDemoEngine(cfg, s, logger,
			flows.WithLifecycleHooks(hooks),
			flows.WithEventSink(newEventSink(logger)),
			flows.WithObserverSink(newObserverSink(logger)),
		)
		if err != nil {
			return err
		}

		var input any
		if len(args) > 1 {
			input = args[1]
		}
		out, err := eng.Process(ctx, args[0], input)
		if err != nil {
			return err
		}
		if out == nil && ctx.Err() != nil {
			return fmt.Errorf("flow stopped: %w", context.Cause(ctx))
		}
		fmt.Println(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("metrics-addr", "", "Expose prometheus metrics on this address while the flow runs")
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func newEventSink(logger *slog.Logger) *notify.Events {
	events := notify.NewEvents(notify.WithLogger(logger))
	events.On(domain.EventFlowStopped, notify.Realtime, func(ctx context.Context, ev domain.Event) {
		e := ev.(domain.FlowStopped)
		logger.WarnContext(ctx, "flow stopped", "process", e.Process, "position", e.Position, "cause", e.Cause)
	})
	events.On(domain.EventOffloadedProcessError, notify.Realtime, func(ctx context.Context, ev domain.Event) {
		e := ev.(domain.OffloadedProcessError)
		logger.ErrorContext(ctx, "offloaded process failed", "process", e.Process, "reason", e.Reason)
	})
	events.On(domain.EventFuseBlown, notify.DeferFromFlow, func(ctx context.Context, ev domain.Event) {
		e := ev.(domain.FuseBlown)
		logger.InfoContext(ctx, "fuse blown", "process", e.Process, "position", e.Position)
	})
	return events
}

func newObserverSink(logger *slog.Logger) *notify.Observers {
	observers := notify.NewObservers(notify.WithLogger(logger))
	observers.On(notify.Realtime, func(ctx context.Context, subject any) {
		logger.DebugContext(ctx, "observed", "type", fmt.Sprintf("%T", subject), "value", subject)
	})
	return observers
}
