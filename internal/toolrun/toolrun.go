// Package toolrun invokes a lifting tool over every file in a corpus,
// classifies each outcome, and files reproducible failure cases under
// an output tree. It is the batch engine behind `liftci lift`.
package toolrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/liftci/liftci/internal/stats"
)

// Template placeholders in the tool command line.
const (
	tokenInput  = "{in}"
	tokenOutput = "{out}"
)

// Config describes one batch run.
type Config struct {
	// Tool is the command template, e.g.
	// "rellic-decomp-11.0 --input {in} --output {out}".
	// {in} is required; without {out} the tool is assumed to write
	// nothing checkable and the zero-output test is skipped.
	Tool string

	// InputDir is walked recursively for inputs matching Pattern.
	InputDir string

	// Pattern is the input filename glob (e.g. "*.bc").
	Pattern string

	// OutputDir receives the work directory, classified cases, and
	// stats.json.
	OutputDir string

	// OutputExt is the extension of the tool's output artifact
	// (e.g. ".c", ".json").
	OutputExt string

	// OnlyFails skips saving successful cases.
	OnlyFails bool

	// Timeout bounds each invocation. Default 5 minutes.
	Timeout time.Duration

	// MemoryLimitBytes caps each child's address space via prlimit.
	// Zero means unlimited.
	MemoryLimitBytes uint64

	// Workers sizes the pool. Default GOMAXPROCS.
	Workers int
}

// Batch runs a tool over a corpus.
type Batch struct {
	cfg    Config
	stats  *stats.Stats
	logger *slog.Logger

	meter       metric.Meter
	runs        metric.Int64Counter
	runDuration metric.Float64Histogram
}

// New creates a Batch. Metric creation failures are logged, not fatal.
func New(cfg Config, st *stats.Stats, logger *slog.Logger) (*Batch, error) {
	if !strings.Contains(cfg.Tool, tokenInput) {
		return nil, fmt.Errorf("tool template must contain %s: %q", tokenInput, cfg.Tool)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Pattern == "" {
		cfg.Pattern = "*"
	}

	b := &Batch{
		cfg:    cfg,
		stats:  st,
		logger: logger,
		meter:  otel.Meter("liftci/toolrun"),
	}

	var err error
	b.runs, err = b.meter.Int64Counter(
		"liftci.tool.runs",
		metric.WithDescription("Total number of tool invocations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		logger.Warn("failed to create runs counter", slog.String("error", err.Error()))
	}

	b.runDuration, err = b.meter.Float64Histogram(
		"liftci.tool.run.duration",
		metric.WithDescription("Wall time of one tool invocation (seconds)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", slog.String("error", err.Error()))
	}

	return b, nil
}

// ToolVersion runs `tool --version` and returns its output. The first
// word of the template is the tool binary.
func ToolVersion(ctx context.Context, tool string) (string, error) {
	argv := strings.Fields(tool)
	if len(argv) == 0 {
		return "", errors.New("empty tool command")
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, argv[0], "--version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("getting %s version: %w", argv[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Inputs lists the corpus files under InputDir matching Pattern.
func (b *Batch) Inputs() ([]string, error) {
	var inputs []string
	err := filepath.WalkDir(b.cfg.InputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ok, err := filepath.Match(b.cfg.Pattern, d.Name())
		if err != nil {
			return err
		}
		if ok {
			inputs = append(inputs, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing inputs in %s: %w", b.cfg.InputDir, err)
	}
	return inputs, nil
}

// Run executes the tool over every input with a worker pool and files
// each case by its outcome label. Individual failures are the point of
// the exercise, not errors; only infrastructure problems abort the run.
func (b *Batch) Run(ctx context.Context) error {
	inputs, err := b.Inputs()
	if err != nil {
		return err
	}

	b.logger.Info("starting batch run",
		slog.String("tool", b.cfg.Tool),
		slog.Int("inputs", len(inputs)),
		slog.Int("workers", b.cfg.Workers),
	)

	if len(inputs) > 0 {
		if err := os.MkdirAll(filepath.Join(b.cfg.OutputDir, "work"), 0o755); err != nil {
			return fmt.Errorf("creating work dir: %w", err)
		}
	}

	b.stats.MarkStart(time.Now())

	type job struct {
		index int
		input string
	}
	jobs := make(chan job)

	var wg sync.WaitGroup
	for range b.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				b.runOne(ctx, j.index, j.input)
			}
		}()
	}

	for i, input := range inputs {
		select {
		case jobs <- job{index: i, input: input}:
		case <-ctx.Done():
			// Stop feeding; in-flight invocations are killed by their
			// per-run context.
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	b.stats.MarkEnd(time.Now())

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("batch run interrupted: %w", err)
	}
	return nil
}

// runOne executes, classifies, and saves a single invocation.
func (b *Batch) runOne(ctx context.Context, index int, input string) {
	start := time.Now()
	res, tmpout := b.invoke(ctx, index, input)
	label := res.Label()

	b.stats.Inc("program_runs")
	if res.TimedOut {
		b.stats.Inc("program_timeouts")
	}
	b.stats.AddCase(label, input)

	if b.runs != nil {
		b.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", label)))
	}
	if b.runDuration != nil {
		b.runDuration.Record(ctx, time.Since(start).Seconds())
	}

	if label == labelSuccess && b.cfg.OnlyFails {
		b.logger.Debug("success not saved", slog.String("input", input))
	} else if err := b.save(index, input, tmpout, res, label); err != nil {
		b.logger.Error("could not save case",
			slog.String("input", input),
			slog.String("error", err.Error()),
		)
	}

	if tmpout != "" {
		os.Remove(tmpout)
	}
}

// invoke runs the tool once and returns the classified result plus the
// temporary output path (empty when the template has no {out}).
func (b *Batch) invoke(ctx context.Context, index int, input string) (Result, string) {
	argv, tmpout := b.buildCommand(index, input)

	runCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{OSError: true, Stderr: err.Error()}, tmpout
	}

	if b.cfg.MemoryLimitBytes > 0 {
		if err := limitAddressSpace(cmd.Process.Pid, b.cfg.MemoryLimitBytes); err != nil {
			b.logger.Warn("could not apply memory limit",
				slog.Int("pid", cmd.Process.Pid),
				slog.String("error", err.Error()),
			)
		}
	}

	err := cmd.Wait()

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		return res, tmpout
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			res.Signal = ws.Signal()
		} else {
			res.ExitCode = exitErr.ExitCode()
		}
	default:
		res.OSError = true
		res.Stderr += "\n" + err.Error()
		return res, tmpout
	}

	// A clean exit with a missing or empty artifact is its own failure.
	if res.ExitCode == 0 && res.Signal == 0 && tmpout != "" {
		if fi, err := os.Stat(tmpout); err != nil || fi.Size() == 0 {
			res.ZeroOutput = true
		}
	}

	return res, tmpout
}

// buildCommand expands the template for one input. The temporary output
// lives in the shared work directory, namespaced by invocation index so
// parallel workers never collide.
func (b *Batch) buildCommand(index int, input string) (argv []string, tmpout string) {
	if strings.Contains(b.cfg.Tool, tokenOutput) {
		stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		tmpout = filepath.Join(b.cfg.OutputDir, "work", fmt.Sprintf("%d-%s%s", index, stem, b.cfg.OutputExt))
	}

	for _, field := range strings.Fields(b.cfg.Tool) {
		field = strings.ReplaceAll(field, tokenInput, input)
		if tmpout != "" {
			field = strings.ReplaceAll(field, tokenOutput, tmpout)
		}
		argv = append(argv, field)
	}
	return argv, tmpout
}

// save files one case under OutputDir/<label>/<relative input path>/:
// the input copy, the output artifact on success, captured stdout and
// stderr, and a repro.sh with the exact command line.
func (b *Batch) save(index int, input, tmpout string, res Result, label string) error {
	rel, err := filepath.Rel(b.cfg.InputDir, input)
	if err != nil {
		rel = filepath.Base(input)
	}

	caseDir := filepath.Join(b.cfg.OutputDir, label, rel)
	if err := os.MkdirAll(caseDir, 0o755); err != nil {
		return fmt.Errorf("creating case dir: %w", err)
	}

	if err := copyFile(input, filepath.Join(caseDir, "input"+filepath.Ext(input))); err != nil {
		return fmt.Errorf("copying input: %w", err)
	}

	if label == labelSuccess && tmpout != "" {
		if err := copyFile(tmpout, filepath.Join(caseDir, "output"+b.cfg.OutputExt)); err != nil {
			return fmt.Errorf("copying output: %w", err)
		}
	}

	if err := os.WriteFile(filepath.Join(caseDir, "stdout"), []byte(res.Stdout), 0o644); err != nil {
		return fmt.Errorf("writing stdout: %w", err)
	}
	if err := os.WriteFile(filepath.Join(caseDir, "stderr"), []byte(res.Stderr), 0o644); err != nil {
		return fmt.Errorf("writing stderr: %w", err)
	}

	argv, _ := b.buildCommand(index, input)
	repro := "#!/bin/sh\n" + strings.Join(argv, " ") + "\n"
	if err := os.WriteFile(filepath.Join(caseDir, "repro.sh"), []byte(repro), 0o755); err != nil {
		return fmt.Errorf("writing repro script: %w", err)
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
