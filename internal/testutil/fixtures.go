package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// sourceFixture is the minimal package layout a valid source tree needs,
// plus enough optional payload to exercise every copy unit.
var sourceFixture = map[string]string{
	".codex/AGENTS.md":                               "# Agent instructions\n",
	".codex/rules/core-rules.md":                     "# Core rules\n\npackaged rules content\n",
	".codex/rules/workspace-msa.md":                  "# Workspace MSA\n",
	".codex/scenarios/code-review.md":                "# Code review scenario\n",
	".codex/skills/local-search.md":                  "# Using local-search\n",
	".codex/tools/local-search/mcp/server.py":        "# server placeholder\n",
	".codex/tools/local-search/app/indexer.py":       "# indexer placeholder\n",
	".codex/tools/local-search/config/config.json":   "{\"exclude_dirs\": [\".git\"]}\n",
	"docs/INSTALL.md":                                "# Install guide\n",
	"docs/ARCHITECTURE.md":                           "# Architecture\n",
}

// BuildSourceTree writes a complete package source under dir.
func BuildSourceTree(t *testing.T, dir string) {
	t.Helper()
	for rel, content := range sourceFixture {
		WriteFile(t, dir, rel, content)
	}
}

// WriteFile writes a file at root/rel, creating parent directories.
func WriteFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// ReadFile reads root/rel and fails the test on error.
func ReadFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("failed to read %s: %v", rel, err)
	}
	return string(data)
}

// Exists reports whether root/rel exists.
func Exists(root, rel string) bool {
	_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil
}
