// Package stats collects counters and per-outcome case lists for a
// batch tool run and renders them as JSON or a human summary.
package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// outcomePrefix namespaces per-outcome case lists in the JSON output.
const outcomePrefix = "output."

// successKey is the case list for clean runs.
const successKey = outcomePrefix + "success"

// Stats is safe for concurrent use by the tool-run worker pool.
type Stats struct {
	mu       sync.Mutex
	counters map[string]int
	cases    map[string][]string
	start    time.Time
	end      time.Time
}

// New creates an empty Stats.
func New() *Stats {
	return &Stats{
		counters: make(map[string]int),
		cases:    make(map[string][]string),
	}
}

// Inc increments a named counter.
func (s *Stats) Inc(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
}

// Counter returns the current value of a named counter.
func (s *Stats) Counter(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key]
}

// AddCase records an input file under an outcome label.
func (s *Stats) AddCase(label, input string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := outcomePrefix + label
	s.cases[key] = append(s.cases[key], input)
}

// MarkStart records the batch start time.
func (s *Stats) MarkStart(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = t
}

// MarkEnd records the batch end time.
func (s *Stats) MarkEnd(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.end = t
}

// snapshot returns a JSON-ready view of all recorded data.
func (s *Stats) snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]any, len(s.counters)+len(s.cases)+2)
	for k, v := range s.counters {
		out[k] = v
	}
	for k, v := range s.cases {
		out[k] = v
	}
	if !s.start.IsZero() {
		out["start_time"] = s.start.Format(time.RFC3339)
	}
	if !s.end.IsZero() {
		out["end_time"] = s.end.Format(time.RFC3339)
	}
	return out
}

// WriteJSON writes the full stats as indented JSON.
func (s *Stats) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(s.snapshot())
}

// SaveJSON writes the stats to a file.
func (s *Stats) SaveJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating stats file: %w", err)
	}
	defer f.Close()
	return s.WriteJSON(f)
}

// Summary writes run duration, throughput, and the success ratio.
func (s *Stats) Summary(w io.Writer) {
	s.mu.Lock()
	start, end := s.start, s.end
	runs := s.counters["program_runs"]
	successes := len(s.cases[successKey])
	s.mu.Unlock()

	if !start.IsZero() && !end.IsZero() {
		elapsed := end.Sub(start)
		fmt.Fprintf(w, "Run took %s\n", elapsed)
		if runs > 0 && elapsed > 0 {
			fmt.Fprintf(w, "Speed of %.2f runs/sec\n", float64(runs)/elapsed.Seconds())
		}
	}

	if runs > 0 {
		fmt.Fprintf(w, "Success Metrics: [%d/%d]\n", successes, runs)
		fmt.Fprintf(w, "Success Percentage: [%.2f%%]\n", 100.0*float64(successes)/float64(runs))
	}
}

// TopFailures writes the n outcome labels with the most cases, success
// excluded, most frequent first.
func (s *Stats) TopFailures(n int, w io.Writer) {
	s.mu.Lock()
	type entry struct {
		label string
		count int
	}
	entries := make([]entry, 0, len(s.cases))
	for k, v := range s.cases {
		if k == successKey {
			continue
		}
		entries = append(entries, entry{label: k[len(outcomePrefix):], count: len(v)})
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].label < entries[j].label
	})

	if n > len(entries) {
		n = len(entries)
	}
	for _, e := range entries[:n] {
		fmt.Fprintf(w, "`%s`: `%d` failures\n", e.label, e.count)
	}
}
