// Package shellenv manages the CODEX_HOME export in the user's shell
// profile. The export is appended at most once, and only when the variable
// is not already defined somewhere else.
package shellenv

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// EnvVar is the variable the Codex CLI reads to locate its home directory.
const EnvVar = "CODEX_HOME"

// RCFile selects the shell profile to append to, based on the login shell.
func RCFile(home, shell string) string {
	switch filepath.Base(shell) {
	case "zsh":
		return filepath.Join(home, ".zshrc")
	case "bash":
		return filepath.Join(home, ".bashrc")
	default:
		return filepath.Join(home, ".profile")
	}
}

// EnsureCodexHome appends an export of CODEX_HOME pointing at codexDir to
// the user's shell profile. It reports whether a line was appended. Nothing
// is written when the variable is already set in the environment or the
// profile already mentions it.
func EnsureCodexHome(home, shell, codexDir string, logger *slog.Logger) (bool, error) {
	if os.Getenv(EnvVar) != "" {
		logger.Debug("CODEX_HOME already set in environment, leaving shell profile alone")
		return false, nil
	}

	rc := RCFile(home, shell)
	data, err := os.ReadFile(rc)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to read %s: %w", rc, err)
	}
	if strings.Contains(string(data), EnvVar) {
		logger.Debug("shell profile already references CODEX_HOME", "path", rc)
		return false, nil
	}

	line := fmt.Sprintf("\n# Added by rulesync\nexport %s=%q\n", EnvVar, codexDir)
	f, err := os.OpenFile(rc, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", rc, err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := f.WriteString(line); err != nil {
		return false, fmt.Errorf("failed to append to %s: %w", rc, err)
	}

	logger.Info("added CODEX_HOME to shell profile", "path", rc, "value", codexDir)
	return true, nil
}

// candidateRCFiles are the profiles inspected when reporting references.
var candidateRCFiles = []string{".zshrc", ".bashrc", ".profile", ".bash_profile"}

// References returns the shell profiles under home that mention the
// workspace's .codex directory. Uninstall reports these; it never edits them.
func References(home, codexDir string) []string {
	var out []string
	for _, name := range candidateRCFiles {
		rc := filepath.Join(home, name)
		data, err := os.ReadFile(rc)
		if err != nil {
			continue
		}
		if strings.Contains(string(data), codexDir) {
			out = append(out, rc)
		}
	}
	return out
}
