// Package workspace inspects the destination directory for an existing
// installation. The scan happens once at the start of a run; everything the
// reconciler decides is a function of this snapshot.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"rulesync/internal/manifest"
)

// trackedSubPaths are non-top-level paths the reconciler makes decisions
// about, recorded at scan time so plan computation never touches the
// filesystem.
var trackedSubPaths = []string{
	manifest.RulesDir,
	manifest.ToolsDir,
	manifest.ScenariosDir,
	manifest.SkillsDir,
	manifest.CodexAgentsFile,
	manifest.ConfigTOML,
	manifest.SettingsJSON,
	manifest.LocalSearchDir,
	manifest.LocalSearchConfigDir,
}

// State captures the install-relevant contents of a workspace at scan time.
type State struct {
	// Root is the absolute workspace path.
	Root string

	// HasRoot reports whether the workspace marker file is present.
	HasRoot bool

	// HasRules reports whether the rules subtree is present.
	HasRules bool

	// Present maps workspace-relative paths (managed top-level paths plus
	// tracked sub-paths) to their existence at scan time.
	Present map[string]bool
}

// Scan reads the workspace once and records which managed paths exist.
func Scan(root string, man *manifest.Manifest) (*State, error) {
	st := &State{Root: root, Present: make(map[string]bool)}

	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			// A missing workspace is an empty one; install creates it.
			return st, nil
		}
		return nil, fmt.Errorf("failed to stat workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace path is not a directory: %s", root)
	}

	for _, e := range man.Paths {
		if exists(st.Join(e.Path)) {
			st.Present[e.Path] = true
		}
	}
	for _, rel := range trackedSubPaths {
		if exists(st.Join(rel)) {
			st.Present[rel] = true
		}
	}

	st.HasRoot = st.Present[manifest.RootMarker]
	st.HasRules = st.Present[manifest.RulesDir]
	return st, nil
}

// Conflicts returns the managed paths, among the given entries, that already
// exist in the workspace, in manifest order.
func (s *State) Conflicts(entries []manifest.Entry) []string {
	var out []string
	for _, e := range entries {
		if s.Present[e.Path] {
			out = append(out, e.Path)
		}
	}
	return out
}

// Join returns the absolute path of a workspace-relative path.
func (s *State) Join(rel string) string {
	return filepath.Join(s.Root, filepath.FromSlash(rel))
}

// FindRoot walks upward from start looking for the workspace marker file.
// Used by uninstall when no workspace path is given.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		if exists(filepath.Join(dir, manifest.RootMarker)) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s marker found in %s or any parent directory", manifest.RootMarker, start)
		}
		dir = parent
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
