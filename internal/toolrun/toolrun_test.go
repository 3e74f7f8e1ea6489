package toolrun

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftci/liftci/internal/stats"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// liftTool writes a shell script that mimics a lifting tool: it copies
// the input to the output, but fails with an assertion on inputs whose
// name contains "bad" and writes an empty artifact for "empty" inputs.
func liftTool(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fake-lifter.sh")
	script := `#!/bin/sh
case "$1" in
*bad*)
    echo "something went wrong" >&2
    exit 1
    ;;
*empty*)
    : > "$2"
    exit 0
    ;;
esac
cat "$1" > "$2"
`
	require.NoError(t, os.WriteFile(p, []byte(script), 0o755))
	return p
}

func writeCorpus(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("bitcode for "+name), 0o644))
	}
	return dir
}

func TestNewRejectsTemplateWithoutInput(t *testing.T) {
	_, err := New(Config{Tool: "lifter --output {out}"}, stats.New(), testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "{in}")
}

func TestBuildCommand(t *testing.T) {
	b, err := New(Config{
		Tool:      "lifter --input {in} --output {out}",
		OutputDir: "results",
		OutputExt: ".c",
	}, stats.New(), testLogger())
	require.NoError(t, err)

	argv, tmpout := b.buildCommand(3, "corpus/x86/prog.bc")

	assert.Equal(t, filepath.Join("results", "work", "3-prog.c"), tmpout)
	assert.Equal(t, []string{"lifter", "--input", "corpus/x86/prog.bc", "--output", tmpout}, argv)
}

func TestBuildCommandWithoutOutputToken(t *testing.T) {
	b, err := New(Config{Tool: "checker {in}"}, stats.New(), testLogger())
	require.NoError(t, err)

	argv, tmpout := b.buildCommand(0, "a.bc")

	assert.Empty(t, tmpout)
	assert.Equal(t, []string{"checker", "a.bc"}, argv)
}

func TestInputs(t *testing.T) {
	dir := writeCorpus(t, "a.bc", "sub/b.bc", "notes.txt")

	b, err := New(Config{Tool: "lifter {in}", InputDir: dir, Pattern: "*.bc"}, stats.New(), testLogger())
	require.NoError(t, err)

	inputs, err := b.Inputs()
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Contains(t, inputs, filepath.Join(dir, "a.bc"))
	assert.Contains(t, inputs, filepath.Join(dir, "sub", "b.bc"))
}

func TestRunClassifiesAndSavesCases(t *testing.T) {
	inputDir := writeCorpus(t, "good.bc", "bad.bc", "empty.bc")
	outputDir := t.TempDir()
	st := stats.New()

	b, err := New(Config{
		Tool:      liftTool(t) + " {in} {out}",
		InputDir:  inputDir,
		Pattern:   "*.bc",
		OutputDir: outputDir,
		OutputExt: ".c",
		Timeout:   time.Minute,
		Workers:   2,
	}, st, testLogger())
	require.NoError(t, err)

	require.NoError(t, b.Run(context.Background()))

	assert.Equal(t, 3, st.Counter("program_runs"))
	assert.Equal(t, 0, st.Counter("program_timeouts"))

	// Success case keeps input, output artifact, and a repro script.
	successDir := filepath.Join(outputDir, "success", "good.bc")
	out, err := os.ReadFile(filepath.Join(successDir, "output.c"))
	require.NoError(t, err)
	assert.Equal(t, "bitcode for good.bc", string(out))
	assert.FileExists(t, filepath.Join(successDir, "input.bc"))
	assert.FileExists(t, filepath.Join(successDir, "repro.sh"))

	// Exit-1 without a minable location buckets under Assertion.
	failDir := filepath.Join(outputDir, "Assertion", "bad.bc")
	stderr, err := os.ReadFile(filepath.Join(failDir, "stderr"))
	require.NoError(t, err)
	assert.Contains(t, string(stderr), "something went wrong")

	// Clean exit with an empty artifact is its own bucket.
	assert.DirExists(t, filepath.Join(outputDir, "zero-sized-output", "empty.bc"))

	// Temporary outputs must not outlive the run.
	work, err := os.ReadDir(filepath.Join(outputDir, "work"))
	require.NoError(t, err)
	assert.Empty(t, work)
}

func TestRunOnlyFailsSkipsSuccesses(t *testing.T) {
	inputDir := writeCorpus(t, "good.bc", "bad.bc")
	outputDir := t.TempDir()
	st := stats.New()

	b, err := New(Config{
		Tool:      liftTool(t) + " {in} {out}",
		InputDir:  inputDir,
		Pattern:   "*.bc",
		OutputDir: outputDir,
		OutputExt: ".c",
		OnlyFails: true,
		Workers:   1,
	}, st, testLogger())
	require.NoError(t, err)

	require.NoError(t, b.Run(context.Background()))

	assert.NoDirExists(t, filepath.Join(outputDir, "success"))
	assert.DirExists(t, filepath.Join(outputDir, "Assertion", "bad.bc"))
	// Successes still count toward the run totals.
	assert.Equal(t, 2, st.Counter("program_runs"))
}

func TestRunTimeout(t *testing.T) {
	tool := filepath.Join(t.TempDir(), "slow.sh")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\nsleep 30\n"), 0o755))

	inputDir := writeCorpus(t, "a.bc")
	st := stats.New()

	b, err := New(Config{
		Tool:      tool + " {in}",
		InputDir:  inputDir,
		Pattern:   "*.bc",
		OutputDir: t.TempDir(),
		Timeout:   200 * time.Millisecond,
		Workers:   1,
	}, st, testLogger())
	require.NoError(t, err)

	require.NoError(t, b.Run(context.Background()))

	assert.Equal(t, 1, st.Counter("program_timeouts"))
}

func TestRunMissingToolIsOSError(t *testing.T) {
	inputDir := writeCorpus(t, "a.bc")
	outputDir := t.TempDir()
	st := stats.New()

	b, err := New(Config{
		Tool:      "/nonexistent/lifter-binary {in}",
		InputDir:  inputDir,
		Pattern:   "*.bc",
		OutputDir: outputDir,
		Workers:   1,
	}, st, testLogger())
	require.NoError(t, err)

	require.NoError(t, b.Run(context.Background()))
	assert.DirExists(t, filepath.Join(outputDir, "oserror", "a.bc"))
}

func TestRunInterruptedByContext(t *testing.T) {
	inputDir := writeCorpus(t, "a.bc", "b.bc")
	st := stats.New()

	b, err := New(Config{
		Tool:      liftTool(t) + " {in} {out}",
		InputDir:  inputDir,
		Pattern:   "*.bc",
		OutputDir: t.TempDir(),
		OutputExt: ".c",
		Workers:   1,
	}, st, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = b.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestToolVersion(t *testing.T) {
	tool := filepath.Join(t.TempDir(), "versioned.sh")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\necho \"fake-lifter 11.0.1\"\n"), 0o755))

	v, err := ToolVersion(context.Background(), tool+" --input {in}")
	require.NoError(t, err)
	assert.Equal(t, "fake-lifter 11.0.1", v)
}
