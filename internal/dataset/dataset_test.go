package dataset

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Mock object store
// ---------------------------------------------------------------------------

type mockStore struct {
	failOn  string
	content []byte

	mu    sync.Mutex
	calls []string
}

func (m *mockStore) Download(_ context.Context, key, dest string) error {
	m.mu.Lock()
	m.calls = append(m.calls, key)
	m.mu.Unlock()
	if key == m.failOn {
		return errors.New("object not found")
	}
	return os.WriteFile(dest, m.content, 0o644)
}

func (m *mockStore) downloaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// Selection
// ---------------------------------------------------------------------------

func TestOptionsValidate(t *testing.T) {
	t.Run("nothing selected", func(t *testing.T) {
		opts := Options{}
		assert.ErrorIs(t, opts.Validate(), ErrNothingSelected)
	})

	t.Run("defaults applied", func(t *testing.T) {
		opts := Options{Bitcode: true}
		require.NoError(t, opts.Validate())
		assert.Equal(t, DefaultTag, opts.Tag)
		assert.Equal(t, DefaultSize, opts.Size)
	})

	t.Run("explicit values kept", func(t *testing.T) {
		opts := Options{Binaries: true, Tag: "llvm12", Size: "10k"}
		require.NoError(t, opts.Validate())
		assert.Equal(t, "llvm12", opts.Tag)
		assert.Equal(t, "10k", opts.Size)
	})
}

func TestKeys(t *testing.T) {
	archs := []string{"x86", "aarch64", "armv7"}

	t.Run("one key per arch and kind", func(t *testing.T) {
		opts := Options{Bitcode: true, Binaries: true, Tag: "llvm11", Size: "1k"}
		keys := opts.Keys(archs)
		assert.Len(t, keys, len(archs)*2)
	})

	t.Run("keys embed tag arch and size", func(t *testing.T) {
		opts := Options{Bitcode: true, Tag: "llvm12", Size: "10k"}
		keys := opts.Keys([]string{"aarch64"})
		assert.Equal(t, []string{"bitcode/llvm12/aarch64/10k.tar.xz"}, keys)
	})

	t.Run("architecture order preserved", func(t *testing.T) {
		opts := Options{Binaries: true, Tag: "llvm11", Size: "1k"}
		keys := opts.Keys(archs)
		assert.Equal(t, []string{
			"binaries/llvm11/x86/1k.tar.xz",
			"binaries/llvm11/aarch64/1k.tar.xz",
			"binaries/llvm11/armv7/1k.tar.xz",
		}, keys)
	})
}

func TestLoadArchitectures(t *testing.T) {
	writeList := func(t *testing.T, content string) string {
		t.Helper()
		p := filepath.Join(t.TempDir(), "architectures.txt")
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}

	t.Run("skips comments and blanks", func(t *testing.T) {
		p := writeList(t, "# ordered by support maturity\n\nx86\namd64\n\n  aarch64  \n")
		archs, err := LoadArchitectures(p)
		require.NoError(t, err)
		assert.Equal(t, []string{"x86", "amd64", "aarch64"}, archs)
	})

	t.Run("empty list is an error", func(t *testing.T) {
		p := writeList(t, "# nothing here\n")
		_, err := LoadArchitectures(p)
		assert.Error(t, err)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := LoadArchitectures(filepath.Join(t.TempDir(), "nope.txt"))
		assert.Error(t, err)
	})
}

// ---------------------------------------------------------------------------
// Fetching
// ---------------------------------------------------------------------------

func TestFetchDownloadsEverySelectedArchive(t *testing.T) {
	store := &mockStore{content: []byte("archive-bytes")}
	outDir := t.TempDir()
	f := NewFetcher(store, outDir, testLogger())

	opts := Options{Bitcode: true, Binaries: true}
	err := f.Fetch(context.Background(), opts, []string{"x86", "aarch64"})
	require.NoError(t, err)

	assert.Len(t, store.downloaded(), 4)

	// Local tree mirrors the object keys.
	for _, key := range opts.Keys([]string{"x86", "aarch64"}) {
		b, err := os.ReadFile(filepath.Join(outDir, filepath.FromSlash(key)))
		require.NoError(t, err)
		assert.Equal(t, "archive-bytes", string(b))
	}
}

func TestFetchRejectsEmptySelection(t *testing.T) {
	store := &mockStore{}
	f := NewFetcher(store, t.TempDir(), testLogger())

	err := f.Fetch(context.Background(), Options{}, []string{"x86"})
	require.ErrorIs(t, err, ErrNothingSelected)
	assert.Empty(t, store.downloaded(), "a rejected selection must not start transfers")
}

func TestFetchAbortsOnFirstFailure(t *testing.T) {
	store := &mockStore{failOn: "bitcode/llvm11/x86/1k.tar.xz"}
	f := NewFetcher(store, t.TempDir(), testLogger())

	err := f.Fetch(context.Background(), Options{Bitcode: true}, []string{"x86", "aarch64"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bitcode/llvm11/x86/1k.tar.xz")
	assert.Len(t, store.downloaded(), 1, "remaining archives must not be attempted")
}
