// Package dataset fetches pre-built test corpora (compiled binaries and
// LLVM bitcode archives) from object storage. Archives are laid out
// under deterministic keys so a (kind, toolchain tag, architecture,
// corpus size) tuple maps to exactly one object.
package dataset

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Archive kinds.
const (
	KindBitcode  = "bitcode"
	KindBinaries = "binaries"
)

// Defaults for the corpus selection flags.
const (
	DefaultTag  = "llvm11"
	DefaultSize = "1k"
)

// ErrNothingSelected is returned when neither archive kind was requested.
var ErrNothingSelected = fmt.Errorf("nothing to fetch: select --%s and/or --%s", KindBitcode, KindBinaries)

// Options select which archives to fetch.
type Options struct {
	// Tag is the compiled-toolchain version tag embedded in object keys.
	Tag string

	// Size is the requested corpus size (e.g. "1k", "10k").
	Size string

	// Bitcode requests the intermediate-representation archives.
	Bitcode bool

	// Binaries requests the compiled-object archives.
	Binaries bool
}

// Validate applies defaults and rejects a selection that fetches nothing.
func (o *Options) Validate() error {
	if !o.Bitcode && !o.Binaries {
		return ErrNothingSelected
	}
	if o.Tag == "" {
		o.Tag = DefaultTag
	}
	if o.Size == "" {
		o.Size = DefaultSize
	}
	return nil
}

// kinds returns the requested archive kinds in fixed order.
func (o *Options) kinds() []string {
	var kinds []string
	if o.Bitcode {
		kinds = append(kinds, KindBitcode)
	}
	if o.Binaries {
		kinds = append(kinds, KindBinaries)
	}
	return kinds
}

// Keys returns one object key per requested (kind, architecture)
// combination, in order: all kinds for the first architecture, then the
// next, matching the externally maintained architecture ordering.
func (o *Options) Keys(archs []string) []string {
	var keys []string
	for _, arch := range archs {
		for _, kind := range o.kinds() {
			keys = append(keys, path.Join(kind, o.Tag, arch, o.Size+".tar.xz"))
		}
	}
	return keys
}

// LoadArchitectures reads the ordered architecture list from a sibling
// file: one architecture per line, blank lines and '#' comments skipped.
func LoadArchitectures(filePath string) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening architecture list: %w", err)
	}
	defer f.Close()

	var archs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		archs = append(archs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading architecture list: %w", err)
	}
	if len(archs) == 0 {
		return nil, fmt.Errorf("architecture list %s is empty", filePath)
	}
	return archs, nil
}

// ObjectStore downloads one object to a local file.
type ObjectStore interface {
	Download(ctx context.Context, key, dest string) error
}

// Fetcher downloads corpus archives into a local directory tree that
// mirrors the object keys.
type Fetcher struct {
	store  ObjectStore
	outDir string
	logger *slog.Logger
}

// NewFetcher creates a Fetcher writing under outDir.
func NewFetcher(store ObjectStore, outDir string, logger *slog.Logger) *Fetcher {
	return &Fetcher{store: store, outDir: outDir, logger: logger}
}

// Fetch downloads every selected archive sequentially. The first failed
// transfer aborts the whole run; there is no retry or resume.
func (f *Fetcher) Fetch(ctx context.Context, opts Options, archs []string) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	keys := opts.Keys(archs)
	f.logger.Info("fetching corpus archives",
		slog.String("tag", opts.Tag),
		slog.String("size", opts.Size),
		slog.Int("archives", len(keys)),
	)

	for _, key := range keys {
		dest := filepath.Join(f.outDir, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
		}

		f.logger.Info("downloading archive", slog.String("key", key))
		if err := f.store.Download(ctx, key, dest); err != nil {
			return fmt.Errorf("downloading %s: %w", key, err)
		}
	}

	f.logger.Info("corpus fetch complete", slog.Int("archives", len(keys)))
	return nil
}
