package stats

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	s := New()
	s.Inc("program_runs")
	s.Inc("program_runs")
	s.Inc("program_timeouts")

	assert.Equal(t, 2, s.Counter("program_runs"))
	assert.Equal(t, 1, s.Counter("program_timeouts"))
	assert.Zero(t, s.Counter("never_touched"))
}

func TestJSONShape(t *testing.T) {
	s := New()
	s.Inc("program_runs")
	s.AddCase("success", "a.bc")
	s.AddCase("sigsegv", "b.bc")
	s.AddCase("sigsegv", "c.bc")
	s.MarkStart(time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))
	s.MarkEnd(time.Date(2026, 8, 30, 10, 5, 0, 0, time.UTC))

	var buf bytes.Buffer
	require.NoError(t, s.WriteJSON(&buf))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))

	assert.Equal(t, float64(1), got["program_runs"])
	assert.Equal(t, []any{"a.bc"}, got["output.success"])
	assert.Equal(t, []any{"b.bc", "c.bc"}, got["output.sigsegv"])
	assert.Equal(t, "2026-08-30T10:00:00Z", got["start_time"])
	assert.Equal(t, "2026-08-30T10:05:00Z", got["end_time"])
}

func TestSaveJSON(t *testing.T) {
	s := New()
	s.Inc("program_runs")

	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, s.SaveJSON(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, float64(1), got["program_runs"])
}

func TestSummary(t *testing.T) {
	s := New()
	start := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	s.MarkStart(start)
	s.MarkEnd(start.Add(10 * time.Second))
	for range 4 {
		s.Inc("program_runs")
	}
	s.AddCase("success", "a.bc")
	s.AddCase("success", "b.bc")
	s.AddCase("success", "c.bc")
	s.AddCase("sigsegv", "d.bc")

	var buf bytes.Buffer
	s.Summary(&buf)
	out := buf.String()

	assert.Contains(t, out, "Run took 10s")
	assert.Contains(t, out, "Speed of 0.40 runs/sec")
	assert.Contains(t, out, "Success Metrics: [3/4]")
	assert.Contains(t, out, "Success Percentage: [75.00%]")
}

func TestSummaryWithoutRunsIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	New().Summary(&buf)
	assert.Empty(t, buf.String())
}

func TestTopFailures(t *testing.T) {
	s := New()
	s.AddCase("success", "ok.bc")
	s.AddCase("sigsegv", "a.bc")
	s.AddCase("sigsegv", "b.bc")
	s.AddCase("sigsegv", "c.bc")
	s.AddCase("timeout", "d.bc")
	s.AddCase("Lifter.cpp:55", "e.bc")
	s.AddCase("Lifter.cpp:55", "f.bc")

	var buf bytes.Buffer
	s.TopFailures(2, &buf)

	assert.Equal(t, "`sigsegv`: `3` failures\n`Lifter.cpp:55`: `2` failures\n", buf.String())
}

func TestTopFailuresClampsToAvailable(t *testing.T) {
	s := New()
	s.AddCase("timeout", "a.bc")

	var buf bytes.Buffer
	s.TopFailures(10, &buf)

	assert.Equal(t, "`timeout`: `1` failures\n", buf.String())
}
