package toolrun

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sys/unix"
)

// Outcome labels not derived from a signal or a stderr location.
const (
	labelSuccess    = "success"
	labelTimeout    = "timeout"
	labelOSError    = "oserror"
	labelZeroOutput = "zero-sized-output"
	labelAssertion  = "Assertion"
)

// Location patterns mined from tool stderr, most specific first.
var (
	// e.g. "IRToASTVisitor.cpp:123" anywhere in a line.
	fileNameRE = regexp.MustCompile(`([^/\s]+\.[^/\s]+:\d+)`)

	// e.g. `File "spec.py", line 42` from a Python traceback.
	pythonErrorRE = regexp.MustCompile(`([^/\s]+\.py)", line (\d+)`)

	// e.g. "AddressSanitizer: heap-use-after-free .../Lifter.cpp:55".
	asanErrorRE = regexp.MustCompile(`AddressSanitizer: [a-zA-Z\-]+ .*/([^:]+:[\d]+)`)

	// Clang diagnostics, e.g. "error: use of undeclared identifier".
	clangErrorRE = regexp.MustCompile(`error: ([\w']+) *([\w']*) *([\w']+) *([\w']+)`)
)

// Result captures how one tool invocation ended.
type Result struct {
	// ExitCode is the tool's exit status when it exited normally.
	ExitCode int

	// Signal is the terminating signal, or 0 when the tool exited.
	Signal unix.Signal

	// TimedOut is set when the invocation hit its deadline.
	TimedOut bool

	// OSError is set when the tool could not be started at all.
	OSError bool

	// ZeroOutput is set when the tool exited cleanly but produced a
	// missing or empty output artifact.
	ZeroOutput bool

	Stdout string
	Stderr string
}

// Label maps a result to the directory name its case is filed under.
// Crashes and assertions are refined with a source location mined from
// stderr so recurring failures in the same place bucket together.
func (r Result) Label() string {
	switch {
	case r.TimedOut:
		return labelTimeout
	case r.OSError:
		return labelOSError
	case r.ZeroOutput:
		return labelZeroOutput
	}

	if r.Signal != 0 {
		switch r.Signal {
		case unix.SIGBUS:
			return "sigbus"
		case unix.SIGSEGV:
			return "sigsegv"
		case unix.SIGILL:
			return "sigill"
		case unix.SIGABRT:
			if loc := abortLocation(r.Stderr); loc != "" {
				return loc
			}
			return "sigabrt"
		default:
			return fmt.Sprintf("unknown_signal_%d", int(r.Signal))
		}
	}

	switch r.ExitCode {
	case 0:
		return labelSuccess
	case 1:
		if loc := assertionLocation(r.Stderr); loc != "" {
			return loc
		}
		return labelAssertion
	default:
		return fmt.Sprintf("unknown_%d", r.ExitCode)
	}
}

// assertionLocation picks apart a generic exit-1 stderr: ASAN reports,
// clang diagnostics, then Python tracebacks.
func assertionLocation(stderr string) string {
	if stderr == "" {
		return ""
	}
	if strings.Contains(stderr, "AddressSanitizer") {
		return asanLocation(stderr)
	}
	if strings.Contains(stderr, "errors generated.") || strings.Contains(stderr, "error generated.") {
		return clangLocation(stderr)
	}
	return pythonLocation(stderr)
}

// asanLocation returns the file:line of the last ASAN frame.
func asanLocation(stderr string) string {
	lines := strings.Split(stderr, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if m := asanErrorRE.FindStringSubmatch(lines[i]); m != nil {
			return m[1]
		}
	}
	return ""
}

// clangLocation returns a filesystem-safe slug of the last clang error.
func clangLocation(stderr string) string {
	lines := strings.Split(stderr, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if m := clangErrorRE.FindString(lines[i]); m != "" {
			m = strings.TrimPrefix(m, "error: ")
			m = strings.ReplaceAll(m, "'", "")
			return strings.ReplaceAll(m, " ", "_")
		}
	}
	return ""
}

// pythonLocation returns the innermost traceback frame as file:line.
func pythonLocation(stderr string) string {
	lines := strings.Split(stderr, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if m := pythonErrorRE.FindStringSubmatch(lines[i]); m != nil {
			return m[1] + ":" + m[2]
		}
	}
	return ""
}

// abortLocation handles SIGABRT stderr. Fatal log lines come first:
//
//	F0415 05:22:54.866288 437680 IRToASTVisitor.cpp:123] Unknown LLVM Type
//
// then any file:line anywhere in the message, searched bottom-up, e.g.
// "UNREACHABLE executed at .../APFloat.cpp:154!".
func abortLocation(stderr string) string {
	if stderr == "" {
		return ""
	}

	lines := strings.Split(stderr, "\n")
	for _, ln := range lines {
		if strings.HasPrefix(ln, "F") {
			if m := fileNameRE.FindStringSubmatch(ln); m != nil {
				return m[1]
			}
		}
	}

	for i := len(lines) - 1; i >= 0; i-- {
		if m := fileNameRE.FindStringSubmatch(lines[i]); m != nil {
			return m[1]
		}
	}

	return ""
}
