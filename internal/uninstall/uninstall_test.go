package uninstall

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"rulesync/internal/manifest"
	"rulesync/internal/prompt"
	"rulesync/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func loadManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Load()
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// installFixture writes a complete installation into root.
func installFixture(t *testing.T, root string) {
	t.Helper()
	testutil.WriteFile(t, root, ".codex-root", "")
	testutil.WriteFile(t, root, ".codex/AGENTS.md", "agents")
	testutil.WriteFile(t, root, ".codex/rules/core-rules.md", "rules")
	testutil.WriteFile(t, root, ".codex/config.toml", "[mcp_servers.local-search]\n")
	testutil.WriteFile(t, root, "docs/INSTALL.md", "docs")
	testutil.WriteFile(t, root, "AGENTS.md", "entry")
	testutil.WriteFile(t, root, "GEMINI.md", "entry")
	testutil.WriteFile(t, root, ".gemini/settings.json", "{}")
}

func TestRunNotInstalled(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	testutil.WriteFile(t, root, "README.md", "unrelated project")

	err := Run(root, loadManifest(t), prompt.NonInteractive(), testLogger(), Options{})
	if !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("err = %v, want ErrNotInstalled", err)
	}
	if !testutil.Exists(root, "README.md") {
		t.Error("unrelated file was removed")
	}
}

func TestRunAborted(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	installFixture(t, root)

	p := &prompt.Scripted{Uninstall: false}
	err := Run(root, loadManifest(t), p, testLogger(), Options{})
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if !testutil.Exists(root, ".codex/rules/core-rules.md") {
		t.Error("declined uninstall removed files")
	}
}

func TestRunConfirmed(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	installFixture(t, root)

	p := &prompt.Scripted{Uninstall: true}
	if err := Run(root, loadManifest(t), p, testLogger(), Options{}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	for _, rel := range []string{".codex-root", ".codex", "docs", "AGENTS.md", "GEMINI.md", ".gemini"} {
		if testutil.Exists(root, rel) {
			t.Errorf("%s survived the uninstall", rel)
		}
	}
}

func TestRunForceSkipsPrompt(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	installFixture(t, root)

	// The scripted provider would decline; Force must never ask it.
	p := &prompt.Scripted{Uninstall: false}
	if err := Run(root, loadManifest(t), p, testLogger(), Options{Force: true}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if testutil.Exists(root, ".codex-root") {
		t.Error("marker survived a forced uninstall")
	}
}

func TestRunRemovesCacheDirs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	root := t.TempDir()
	installFixture(t, root)

	for _, dir := range CacheDirs(home) {
		if err := os.MkdirAll(filepath.Join(dir, "index"), 0755); err != nil {
			t.Fatal(err)
		}
	}

	if err := Run(root, loadManifest(t), prompt.NonInteractive(), testLogger(), Options{Force: true}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	for _, dir := range CacheDirs(home) {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Errorf("cache directory %s survived the uninstall", dir)
		}
	}
}

func TestRunKeepsUserFiles(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	root := t.TempDir()
	installFixture(t, root)
	testutil.WriteFile(t, root, "src/main.go", "package main")
	testutil.WriteFile(t, root, "README.md", "project readme")

	if err := Run(root, loadManifest(t), prompt.NonInteractive(), testLogger(), Options{Force: true}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	for _, rel := range []string{"src/main.go", "README.md"} {
		if !testutil.Exists(root, rel) {
			t.Errorf("user file %s was removed", rel)
		}
	}
}

func TestCacheDirs(t *testing.T) {
	dirs := CacheDirs("/home/u")
	if len(dirs) != 2 {
		t.Fatalf("CacheDirs returned %d entries, want 2", len(dirs))
	}
	if dirs[0] != filepath.Join("/home/u", ".local", "share", "local-search") {
		t.Errorf("current cache dir = %s", dirs[0])
	}
	if dirs[1] != filepath.Join("/home/u", ".cache", "local-search") {
		t.Errorf("legacy cache dir = %s", dirs[1])
	}
}
