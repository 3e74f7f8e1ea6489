// Package runner implements the self-terminating instance runner: it
// wraps an arbitrary workload such that the instance it runs on is
// destroyed when the workload exits, whether it completed, failed, or
// was signalled -- unless debug mode asks for the instance to be kept
// for post-mortem inspection.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// DefaultBranch is used when the configured branch is empty or was left
// as the unresolved templating placeholder.
const DefaultBranch = "master"

// branchPlaceholder is the token a skipped templating pass leaves behind.
const branchPlaceholder = "__branch__"

// Identity reads this instance's own provider ID.
type Identity interface {
	InstanceID(ctx context.Context) (string, error)
}

// Destroyer issues the destructive control-plane call for an instance.
type Destroyer interface {
	Destroy(ctx context.Context, id string) error
}

// Workload is the caller-supplied work executed under the destroy
// guarantee. It is opaque to the runner.
type Workload func(ctx context.Context) error

// Config holds the run configuration, constructed once at process start
// from flags and passed explicitly -- the runner never reads ambient
// environment state.
//
// The original header script had a single debug switch that
// simultaneously disabled self-destruction, enabled core dumps, and
// relaxed failure strictness. The three effects are independent fields
// here; the CLI's --debug flag sets all three to preserve the coupled
// behavior.
type Config struct {
	// RunName identifies this CI run in logs and notifications.
	RunName string

	// Branch is the source branch under test. Empty or the unresolved
	// placeholder resolves to DefaultBranch.
	Branch string

	// SlackWebhook is exported to the workload for its own notifications.
	SlackWebhook string

	// PreserveInstance disables the destroy-on-exit guarantee.
	PreserveInstance bool

	// CoreDumps configures unlimited core size and redirects the kernel
	// core pattern to CoreDir before the workload runs.
	CoreDumps bool

	// StrictFailures makes any failing command, unset variable
	// reference, or failed pipeline stage inside a script workload
	// fatal.
	StrictFailures bool

	// CoreDir is where core dumps land when CoreDumps is set.
	// Default: /coredumps.
	CoreDir string
}

// Runner executes a workload with a guaranteed-destroy scope.
type Runner struct {
	cfg       Config
	identity  Identity
	destroyer Destroyer
	logger    *slog.Logger

	destroyOnce sync.Once
}

// New creates a Runner. The destroy hook is registered at construction
// time in the sense that Run always arms it unless PreserveInstance is
// set.
func New(cfg Config, identity Identity, destroyer Destroyer, logger *slog.Logger) *Runner {
	if cfg.CoreDir == "" {
		cfg.CoreDir = "/coredumps"
	}
	cfg.Branch = ResolveBranch(cfg.Branch)
	return &Runner{
		cfg:       cfg,
		identity:  identity,
		destroyer: destroyer,
		logger:    logger,
	}
}

// ResolveBranch maps the unresolved templating placeholder (or an empty
// value) to the canonical default branch. Any other value passes
// through unchanged.
func ResolveBranch(branch string) string {
	if branch == "" || strings.EqualFold(branch, branchPlaceholder) {
		return DefaultBranch
	}
	return branch
}

// Config returns the effective configuration (branch resolved, defaults
// applied).
func (r *Runner) Config() Config { return r.cfg }

// Run executes the workload under the destroy guarantee.
//
// The destroy hook fires on every exit path: normal return, workload
// error, or a termination signal cancelling ctx upstream. It runs at
// most once per process lifetime and its own failure is logged but
// never escalated -- the process is terminating regardless, and a
// destroy that did not go through only costs money, not correctness.
func (r *Runner) Run(ctx context.Context, workload Workload) error {
	if r.cfg.CoreDumps {
		if err := enableCoreDumps(r.cfg.CoreDir); err != nil {
			r.logger.Warn("could not configure core dumps", slog.String("error", err.Error()))
		} else {
			r.logger.Info("core dumps enabled", slog.String("dir", r.cfg.CoreDir))
		}
	}

	if r.cfg.PreserveInstance {
		r.logger.Info("debug mode: instance will be preserved after the workload exits")
	} else {
		// The hook must survive ctx cancellation: a termination signal
		// is exactly the case it exists for.
		defer r.destroy(context.WithoutCancel(ctx))
	}

	r.logger.Info("starting workload",
		slog.String("run", r.cfg.RunName),
		slog.String("branch", r.cfg.Branch),
	)

	if err := workload(ctx); err != nil {
		return fmt.Errorf("workload: %w", err)
	}
	return nil
}

// destroy is the exit hook: read own identity from the metadata
// service, then issue exactly one destructive call. Best-effort only.
func (r *Runner) destroy(ctx context.Context) {
	r.destroyOnce.Do(func() {
		id, err := r.identity.InstanceID(ctx)
		if err != nil {
			r.logger.Error("self-destruct: could not read instance identity; instance may be left running",
				slog.String("error", err.Error()),
			)
			return
		}

		r.logger.Info("self-destruct: destroying instance", slog.String("id", id))

		if err := r.destroyer.Destroy(ctx, id); err != nil {
			r.logger.Error("self-destruct: destroy call failed; instance may be left running",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
			return
		}

		r.logger.Info("self-destruct: destroy call issued", slog.String("id", id))
	})
}

// ScriptWorkload builds a Workload that runs a shell script with the
// run configuration exported in its environment. Under StrictFailures
// the script runs with set -euo pipefail so any failing command, unset
// variable, or failed pipeline stage aborts the run and reaches the
// destroy hook.
func ScriptWorkload(cfg Config, script string, stdout, stderr io.Writer) Workload {
	return func(ctx context.Context) error {
		body := script
		if cfg.StrictFailures {
			body = "set -euo pipefail\n" + body
		}

		cmd := exec.CommandContext(ctx, "/bin/bash", "-c", body)
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		cmd.Env = append(os.Environ(),
			"RUN_NAME="+cfg.RunName,
			"BRANCH="+ResolveBranch(cfg.Branch),
			"SLACK_HOOK="+cfg.SlackWebhook,
			// Unattended package operations must never prompt.
			"DEBIAN_FRONTEND=noninteractive",
		)

		return cmd.Run()
	}
}
