//go:build linux

package runner

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// corePatternPath is the kernel knob for core dump file naming.
const corePatternPath = "/proc/sys/kernel/core_pattern"

// enableCoreDumps lifts the core size limit and points the kernel core
// pattern at dir so a crashing workload leaves an inspectable artifact.
// The pattern embeds executable name, PID, and timestamp.
func enableCoreDumps(dir string) error {
	limit := unix.Rlimit{Cur: unix.RLIM_INFINITY, Max: unix.RLIM_INFINITY}
	if err := unix.Setrlimit(unix.RLIMIT_CORE, &limit); err != nil {
		return fmt.Errorf("raising core limit: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating core dir %s: %w", dir, err)
	}

	pattern := filepath.Join(dir, "core.%e.%p.%t")
	if err := os.WriteFile(corePatternPath, []byte(pattern), 0o644); err != nil {
		return fmt.Errorf("setting core pattern: %w", err)
	}

	return nil
}
