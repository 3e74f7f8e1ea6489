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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/liftci/liftci/internal/cloud/metadata"
	"github.com/liftci/liftci/internal/health"
	"github.com/liftci/liftci/internal/otel"
	"github.com/liftci/liftci/internal/runner"
)

var runFlags struct {
	script     string
	name       string
	branch     string
	debug      bool
	statusAddr string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a workload on this instance with a self-destruct guarantee",
	Long: `run executes a workload script on the instance it is invoked on.
Unless --debug is given, the instance destroys itself when the workload
exits -- whether it completed, failed, or was signalled. The instance's
own identity is read from the link-local metadata service; the destroy
call is best-effort and its failure never blocks process exit.

With --debug the instance is preserved for post-mortem inspection, core
dumps are enabled, and script failures are no longer fatal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// SIGTERM routes through the same exit path as a workload
		// failure, so the destroy hook fires either way.
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runWorkload(ctx)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.script, "script", "", "Workload script to execute (required)")
	f.StringVar(&runFlags.name, "name", "", "Name identifying this run")
	f.StringVar(&runFlags.branch, "branch", "", "Source branch under test (placeholder or empty means the default branch)")
	f.BoolVar(&runFlags.debug, "debug", false, "Preserve the instance and capture core dumps instead of self-destructing")
	f.StringVar(&runFlags.statusAddr, "status-addr", "", "Serve /healthz and /metrics on this address while the workload runs")
	_ = runCmd.MarkFlagRequired("script")
}

func runWorkload(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateCloud(); err != nil {
		return err
	}

	name := runFlags.name
	if name == "" {
		name = cfg.Run.Name
	}
	branch := runFlags.branch
	if branch == "" {
		branch = cfg.Run.Branch
	}
	statusAddr := runFlags.statusAddr
	if statusAddr == "" {
		statusAddr = cfg.Run.StatusAddr
	}

	otelShutdown, err := otel.SetupOTelSDK(ctx, "liftci", otel.Config{
		Enabled:    cfg.OTel.Enabled,
		Endpoint:   cfg.OTel.Endpoint,
		Insecure:   cfg.OTel.Insecure,
		StdOut:     cfg.OTel.StdOut,
		Prometheus: statusAddr != "",
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := otelShutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	instances, err := cfg.NewInstances(ctx, logger)
	if err != nil {
		return fmt.Errorf("initializing cloud backend: %w", err)
	}

	runCfg := runner.Config{
		RunName:          name,
		Branch:           branch,
		SlackWebhook:     cfg.Run.SlackWebhook,
		PreserveInstance: runFlags.debug || cfg.Run.Debug,
		CoreDumps:        runFlags.debug || cfg.Run.Debug,
		StrictFailures:   !(runFlags.debug || cfg.Run.Debug),
		CoreDir:          cfg.Run.CoreDir,
	}

	r := runner.New(runCfg, metadata.NewClient(), instances, logger.WithGroup("runner"))

	if statusAddr != "" {
		srv := statusServer(statusAddr, r.Config())
		go func() {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	script, err := os.ReadFile(runFlags.script)
	if err != nil {
		return fmt.Errorf("reading workload script: %w", err)
	}

	workload := runner.ScriptWorkload(r.Config(), string(script), os.Stdout, os.Stderr)
	return r.Run(ctx, workload)
}

// statusServer serves the liveness endpoint and Prometheus metrics
// while the workload runs.
func statusServer(addr string, cfg runner.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", health.Handler(cfg.RunName, cfg.Branch))
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
