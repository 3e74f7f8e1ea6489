package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/liftci/liftci/internal/notify"
	"github.com/liftci/liftci/internal/otel"
	"github.com/liftci/liftci/internal/stats"
	"github.com/liftci/liftci/internal/toolrun"
)

var liftFlags struct {
	tool        string
	inputDir    string
	outputDir   string
	pattern     string
	outputExt   string
	onlyFails   bool
	slackNotify bool
	runName     string
	dumpStats   bool
	timeout     time.Duration
	memoryLimit uint64
	workers     int
}

// topFailureCount bounds the failure breakdown in summaries and Slack.
const topFailureCount = 10

var liftCmd = &cobra.Command{
	Use:   "lift",
	Short: "Run a lifting tool over every file in a corpus",
	Long: `lift invokes a lifting tool once per corpus file, classifies every
outcome (crash signal, assertion, timeout, empty output, ...), and files
each case with its input, captured output, and a repro script. Failing
cases bucket by the source location mined from the tool's stderr, so
recurring crashes in the same place group together.

The tool command is a template: {in} is replaced with the input file and
{out} with a per-invocation output path, e.g.

  liftci lift --tool "rellic-decomp --input {in} --output {out}" \
      --input-dir bitcode --pattern '*.bc' --output-ext .c`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		if liftFlags.slackNotify && cfg.Run.SlackWebhook == "" {
			return fmt.Errorf("no Slack webhook: set run.slack_webhook or the SLACK_HOOK env var")
		}

		ctx := cmd.Context()

		otelShutdown, err := otel.SetupOTelSDK(ctx, "liftci", otel.Config{
			Enabled:  cfg.OTel.Enabled,
			Endpoint: cfg.OTel.Endpoint,
			Insecure: cfg.OTel.Insecure,
			StdOut:   cfg.OTel.StdOut,
		})
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer func() {
			if err := otelShutdown(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
			}
		}()

		version, err := toolrun.ToolVersion(ctx, liftFlags.tool)
		if err != nil {
			return err
		}
		logger.Info("running tool", slog.String("version", version))

		st := stats.New()
		batch, err := toolrun.New(toolrun.Config{
			Tool:             liftFlags.tool,
			InputDir:         liftFlags.inputDir,
			Pattern:          liftFlags.pattern,
			OutputDir:        liftFlags.outputDir,
			OutputExt:        liftFlags.outputExt,
			OnlyFails:        liftFlags.onlyFails,
			Timeout:          liftFlags.timeout,
			MemoryLimitBytes: liftFlags.memoryLimit,
			Workers:          liftFlags.workers,
		}, st, logger.WithGroup("toolrun"))
		if err != nil {
			return err
		}

		if err := batch.Run(ctx); err != nil {
			return err
		}

		st.Summary(os.Stderr)
		st.TopFailures(topFailureCount, os.Stderr)

		if liftFlags.dumpStats {
			statsPath := filepath.Join(liftFlags.outputDir, "stats.json")
			if err := st.SaveJSON(statsPath); err != nil {
				return err
			}
			logger.Info("stats written", slog.String("path", statsPath))
		}

		if liftFlags.slackNotify {
			if err := postRunReport(ctx, cfg.Run.SlackWebhook, version, st); err != nil {
				return err
			}
		}

		return nil
	},
}

// postRunReport sends the batch summary to Slack.
func postRunReport(ctx context.Context, webhook, version string, st *stats.Stats) error {
	var summary, fails strings.Builder
	st.Summary(&summary)
	st.TopFailures(topFailureCount, &fails)

	msg := notify.NewMessage().
		AddHeader(liftFlags.runName).
		AddSection(fmt.Sprintf("Tool Version: ```%s```", version)).
		AddDivider().
		AddSection(summary.String())

	// All-success runs have no failure breakdown, and Slack rejects
	// empty section blocks.
	if f := fails.String(); f != "" {
		msg.AddDivider().
			AddSection(fmt.Sprintf("Top %d:", topFailureCount)).
			AddSection(f)
	}

	return msg.Post(ctx, webhook)
}

func init() {
	f := liftCmd.Flags()
	f.StringVar(&liftFlags.tool, "tool", "", "Tool command template with {in} and {out} placeholders (required)")
	f.StringVar(&liftFlags.inputDir, "input-dir", "bitcode", "Where to look for inputs")
	f.StringVar(&liftFlags.outputDir, "output-dir", "results", "Where to put classified cases")
	f.StringVar(&liftFlags.pattern, "pattern", "*.bc", "Input filename glob")
	f.StringVar(&liftFlags.outputExt, "output-ext", ".c", "Extension of the tool's output artifact")
	f.BoolVar(&liftFlags.onlyFails, "only-fails", false, "Only save failing cases")
	f.BoolVar(&liftFlags.slackNotify, "slack-notify", false, "Post the run report to Slack")
	f.StringVar(&liftFlags.runName, "run-name", "Lifting Batch Run", "A name to identify this batch run")
	f.BoolVar(&liftFlags.dumpStats, "dump-stats", false, "Write stats.json in the output directory")
	f.DurationVar(&liftFlags.timeout, "timeout", 5*time.Minute, "Per-invocation timeout")
	f.Uint64Var(&liftFlags.memoryLimit, "memory-limit", 0, "Per-invocation address-space limit in bytes (0 = unlimited)")
	f.IntVar(&liftFlags.workers, "workers", 0, "Worker pool size (0 = GOMAXPROCS)")
	_ = liftCmd.MarkFlagRequired("tool")
}
