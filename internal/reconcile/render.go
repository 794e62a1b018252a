package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"rulesync/internal/manifest"
)

// agentsEntryContent is the root AGENTS.md pointer document for Codex.
const agentsEntryContent = `# AGENTS.md

This workspace is managed by the codex-rules package.

Read ` + "`.codex/AGENTS.md`" + ` first, then follow the policy in
` + "`.codex/rules/core-rules.md`" + ` for every task in this workspace.
`

// geminiEntryContent is the root GEMINI.md entry file. Gemini pulls rule
// content in through its @-import syntax.
const geminiEntryContent = `# GEMINI.md

@./.codex/rules/core-rules.md

This workspace is managed by the codex-rules package. The import above loads
the primary policy file; tool registration lives in ` + "`.gemini/settings.json`" + `.
`

// ServerBlockMarker identifies the companion-tool registration in
// config.toml. Its presence means the block was already appended.
const ServerBlockMarker = "[mcp_servers." + manifest.ServerName + "]"

// serverBlock is the config.toml section registering the companion tool.
const serverBlock = ServerBlockMarker + `
command = "python3"
args = ["` + manifest.LocalSearchServer + `"]
env = { "CODEX_WORKSPACE_ROOT" = "." }
`

// configTOMLHeader opens a freshly created config.toml.
const configTOMLHeader = `# Codex CLI configuration.
# The block below was added by rulesync; everything else in this file is
# yours and is never touched on reinstall.

`

func entryContent(rel string) ([]byte, bool) {
	switch rel {
	case manifest.AgentsEntry:
		return []byte(agentsEntryContent), true
	case manifest.GeminiEntry:
		return []byte(geminiEntryContent), true
	}
	return nil, false
}

// appendServerBlock creates config.toml with the registration block, or
// appends the block when the file exists without it. Existing content is
// never modified; a file that already carries the marker is left alone.
func appendServerBlock(path string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(configTOMLHeader+serverBlock), 0644); err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		verifyTOML(path, []byte(configTOMLHeader+serverBlock), logger)
		return nil
	}

	if bytes.Contains(data, []byte(ServerBlockMarker)) {
		logger.Debug("server registration already present", "path", path)
		return nil
	}

	out := make([]byte, 0, len(data)+len(serverBlock)+2)
	out = append(out, data...)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		out = append(out, '\n')
	}
	out = append(out, '\n')
	out = append(out, serverBlock...)

	if err := os.WriteFile(path, out, fileMode(path, 0644)); err != nil {
		return fmt.Errorf("failed to append to %s: %w", path, err)
	}
	verifyTOML(path, out, logger)
	return nil
}

// verifyTOML re-parses the config after an append. A failure means the file
// was already malformed or the append landed mid-construct; either way the
// user's bytes are in place, so this only warns.
func verifyTOML(path string, data []byte, logger *slog.Logger) {
	var v map[string]any
	if err := toml.Unmarshal(data, &v); err != nil {
		logger.Warn("config file does not parse as TOML after update", "path", path, "error", err)
	}
}

// serverEntry is the settings.json registration for the companion tool.
func serverEntry() map[string]any {
	return map[string]any{
		"command": "python3",
		"args":    []string{manifest.LocalSearchServer},
		"env":     map[string]string{"CODEX_WORKSPACE_ROOT": "."},
	}
}

// mergeSettings creates .gemini/settings.json with the companion-tool server
// entry, or inserts the entry into an existing file when the key is missing.
// All other keys and entries are preserved byte-for-byte in value terms.
func mergeSettings(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		fresh := map[string]any{
			"mcpServers": map[string]any{manifest.ServerName: serverEntry()},
		}
		out, err := json.MarshalIndent(fresh, "", "  ")
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		return os.WriteFile(path, append(out, '\n'), 0644)
	}

	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("existing %s is not valid JSON: %w", path, err)
	}

	servers, _ := settings["mcpServers"].(map[string]any)
	if servers == nil {
		servers = make(map[string]any)
	}
	if _, ok := servers[manifest.ServerName]; ok {
		return nil
	}
	servers[manifest.ServerName] = serverEntry()
	settings["mcpServers"] = servers

	out, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(out, '\n'), fileMode(path, 0644))
}

// fileMode returns the file's current mode, or def when it cannot be read.
func fileMode(path string, def os.FileMode) os.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}
	return def
}
