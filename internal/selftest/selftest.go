// Package selftest probes the companion tool's runtime: a usable Python
// interpreter, and the local-search server answering an MCP initialize
// request over its standard input. The tool's health is outside the
// installer's authority, so every failure here downgrades to a warning.
package selftest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"rulesync/internal/manifest"
)

// Minimum interpreter version the companion tool supports.
const (
	minPythonMajor = 3
	minPythonMinor = 8
)

// serverTimeout bounds the initialize round-trip. The server indexes lazily,
// so a healthy one answers well inside this.
const serverTimeout = 10 * time.Second

// PythonInterpreter locates a Python interpreter of a supported version.
func PythonInterpreter(ctx context.Context) (string, error) {
	var lastErr error
	for _, name := range []string{"python3", "python"} {
		path, err := exec.LookPath(name)
		if err != nil {
			lastErr = err
			continue
		}
		out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
		if err != nil {
			lastErr = fmt.Errorf("%s --version failed: %w", name, err)
			continue
		}
		major, minor, err := parsePythonVersion(string(out))
		if err != nil {
			lastErr = err
			continue
		}
		if major > minPythonMajor || (major == minPythonMajor && minor >= minPythonMinor) {
			return path, nil
		}
		lastErr = fmt.Errorf("%s is Python %d.%d, need >= %d.%d", path, major, minor, minPythonMajor, minPythonMinor)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no python interpreter found")
	}
	return "", lastErr
}

// parsePythonVersion extracts major.minor from "Python 3.11.2" style output.
func parsePythonVersion(out string) (int, int, error) {
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) < 2 || fields[0] != "Python" {
		return 0, 0, fmt.Errorf("unrecognized python version output %q", strings.TrimSpace(out))
	}
	parts := strings.Split(fields[1], ".")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unrecognized python version %q", fields[1])
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("unrecognized python version %q", fields[1])
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("unrecognized python version %q", fields[1])
	}
	return major, minor, nil
}

// initializeRequest is the MCP handshake sent to the server.
type initializeRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int            `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

func newInitializeRequest() initializeRequest {
	return initializeRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]any{
			"protocolVersion": "2025-11-25",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "rulesync", "version": "dev"},
		},
	}
}

// CheckServer starts the companion server from the workspace and performs
// the initialize exchange. A response line containing a protocolVersion
// means the server is healthy.
func CheckServer(ctx context.Context, interpreter, workspaceRoot string, logger *slog.Logger) error {
	server := filepath.Join(workspaceRoot, filepath.FromSlash(manifest.LocalSearchServer))
	if _, err := os.Stat(server); err != nil {
		return fmt.Errorf("companion server not installed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, serverTimeout)
	defer cancel()

	req, err := json.Marshal(newInitializeRequest())
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, interpreter, server)
	cmd.Dir = workspaceRoot
	cmd.Env = append(os.Environ(), "CODEX_WORKSPACE_ROOT="+workspaceRoot)
	cmd.Stdin = bytes.NewReader(append(req, '\n'))

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	// The server keeps reading stdin until EOF, which our fixed reader
	// provides after the single request.
	if err := cmd.Run(); err != nil && stdout.Len() == 0 {
		return fmt.Errorf("companion server did not start: %w", err)
	}

	if err := checkInitializeResponse(stdout.Bytes()); err != nil {
		return err
	}
	logger.Debug("companion server answered initialize", "server", server)
	return nil
}

// checkInitializeResponse scans server output for an initialize result
// carrying a protocolVersion.
func checkInitializeResponse(out []byte) error {
	for _, line := range bytes.Split(out, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var resp struct {
			Result struct {
				ProtocolVersion string `json:"protocolVersion"`
			} `json:"result"`
		}
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.Result.ProtocolVersion != "" {
			return nil
		}
	}
	return fmt.Errorf("no recognizable initialize response from companion server")
}

// Run performs the full self-test against an installed workspace, logging
// warnings instead of failing: the companion tool's runtime health does not
// gate the install.
func Run(ctx context.Context, workspaceRoot string, logger *slog.Logger) {
	interpreter, err := PythonInterpreter(ctx)
	if err != nil {
		logger.Warn("no usable python interpreter for the local-search tool", "error", err)
		return
	}
	if err := CheckServer(ctx, interpreter, workspaceRoot, logger); err != nil {
		logger.Warn("local-search self-test failed (install is still considered successful)", "error", err)
		return
	}
	logger.Info("local-search self-test passed", "interpreter", interpreter)
}
