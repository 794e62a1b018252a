package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"rulesync/internal/config"
)

// RequiredSubtrees are the package paths a valid source must contain.
// A source missing any of them is rejected before reconciliation begins.
var RequiredSubtrees = []string{
	".codex/rules",
	".codex/tools/local-search",
	".codex/AGENTS.md",
	"docs",
}

// Tree is a fully materialized package source, rooted at a local directory.
type Tree struct {
	Root string
}

// Open validates root as a package source and returns it as a Tree.
func Open(root string) (*Tree, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source path is not a directory: %s", root)
	}

	t := &Tree{Root: root}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks that every required subtree is present.
func (t *Tree) Validate() error {
	var missing []string
	for _, rel := range RequiredSubtrees {
		if !t.Has(rel) {
			missing = append(missing, rel)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("source tree %s is incomplete, missing: %s", t.Root, strings.Join(missing, ", "))
	}
	return nil
}

// Join returns the absolute path of a package-relative path.
func (t *Tree) Join(rel string) string {
	return filepath.Join(t.Root, filepath.FromSlash(rel))
}

// Has reports whether the package contains the given relative path.
func (t *Tree) Has(rel string) bool {
	_, err := os.Stat(t.Join(rel))
	return err == nil
}

// Resolve materializes a source tree for the run. Precedence: an explicit
// --source directory, then a package checkout the binary runs from, then a
// snapshot fetched from the upstream repository into a run-scoped temp
// directory. The returned cleanup func removes the temp checkout when one
// was made.
func Resolve(ctx context.Context, cfg *config.Config, fetcher Fetcher, logger *slog.Logger) (*Tree, func(), error) {
	noop := func() {}

	if cfg.SourceDir != "" {
		logger.Info("using local source tree", "path", cfg.SourceDir)
		t, err := Open(cfg.SourceDir)
		if err != nil {
			return nil, noop, err
		}
		return t, noop, nil
	}

	if t, ok := runningCheckout(); ok {
		logger.Info("using package checkout", "path", t.Root)
		return t, noop, nil
	}

	tmpDir, err := os.MkdirTemp("", "rulesync-src-*")
	if err != nil {
		return nil, noop, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(tmpDir) }

	logger.Info("fetching package snapshot",
		"url", cfg.Upstream.URL,
		"ref", cfg.Upstream.Ref)

	commit, err := fetcher.Fetch(ctx, cfg.Upstream.URL, cfg.Upstream.Ref, tmpDir)
	if err != nil {
		cleanup()
		return nil, noop, fmt.Errorf("failed to fetch package snapshot: %w", err)
	}
	logger.Info("snapshot fetched", "commit", commit)

	t, err := Open(tmpDir)
	if err != nil {
		cleanup()
		return nil, noop, err
	}
	return t, cleanup, nil
}

// runningCheckout looks for a complete package tree around the running
// binary, so an install started from inside a checkout uses that checkout
// without fetching. Walks upward from the executable's directory.
func runningCheckout() (*Tree, bool) {
	exe, err := os.Executable()
	if err != nil {
		return nil, false
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	dir := filepath.Dir(exe)
	for {
		t := &Tree{Root: dir}
		if t.Validate() == nil {
			return t, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, false
		}
		dir = parent
	}
}
