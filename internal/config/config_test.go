package config

import (
	"path/filepath"
	"testing"
)

func TestResolveDefaults(t *testing.T) {
	cfg, err := Resolve("", "", "", "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !filepath.IsAbs(cfg.Workspace) {
		t.Errorf("workspace %q is not absolute", cfg.Workspace)
	}
	if !cfg.Targets.IsEmpty() {
		t.Errorf("targets should be deferred when no --target is given, got %s", cfg.Targets)
	}
	if cfg.Upstream.URL != DefaultUpstreamURL {
		t.Errorf("upstream url = %q, want default", cfg.Upstream.URL)
	}
	if cfg.Upstream.Ref != DefaultUpstreamRef {
		t.Errorf("upstream ref = %q, want default", cfg.Upstream.Ref)
	}
}

func TestResolveEnvOverrides(t *testing.T) {
	t.Setenv(EnvUpstreamURL, "https://example.com/fork.git")
	t.Setenv(EnvUpstreamRef, "v2.3.3")

	cfg, err := Resolve(t.TempDir(), "all", "", "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if cfg.Upstream.URL != "https://example.com/fork.git" {
		t.Errorf("upstream url = %q, want env override", cfg.Upstream.URL)
	}
	if cfg.Upstream.Ref != "v2.3.3" {
		t.Errorf("upstream ref = %q, want env override", cfg.Upstream.Ref)
	}
}

func TestResolveTargets(t *testing.T) {
	cfg, err := Resolve(t.TempDir(), "codex", "", "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !cfg.Targets.Codex || cfg.Targets.Gemini {
		t.Errorf("targets = %+v, want codex only", cfg.Targets)
	}

	if _, err := Resolve(t.TempDir(), "cursor", "", ""); err == nil {
		t.Error("expected error for unknown target")
	}
}

func TestResolveModes(t *testing.T) {
	for _, mode := range []string{"", "backup", "skip", "update", "quit"} {
		if _, err := Resolve(t.TempDir(), "", mode, ""); err != nil {
			t.Errorf("Resolve with mode %q returned error: %v", mode, err)
		}
	}
	if _, err := Resolve(t.TempDir(), "", "merge", ""); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestResolveSourceDirAbs(t *testing.T) {
	cfg, err := Resolve(t.TempDir(), "", "", "rel/source")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !filepath.IsAbs(cfg.SourceDir) {
		t.Errorf("source dir %q is not absolute", cfg.SourceDir)
	}
}

func TestResolveExpandsEnvInWorkspace(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("RULESYNC_TEST_WS", dir)

	cfg, err := Resolve("$RULESYNC_TEST_WS", "", "", "")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if cfg.Workspace != dir {
		t.Errorf("workspace = %q, want %q", cfg.Workspace, dir)
	}
}
