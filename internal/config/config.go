package config

import (
	"fmt"
	"os"
	"path/filepath"

	"rulesync/internal/manifest"
)

// Environment overrides for the upstream package source.
const (
	EnvUpstreamURL = "CODEX_RULES_URL"
	EnvUpstreamRef = "CODEX_RULES_REF"
)

// DefaultUpstreamURL is the canonical ruleset repository, used when no local
// source directory is available and no override is set.
const DefaultUpstreamURL = "https://github.com/codex-rules/codex-rules.git"

// DefaultUpstreamRef is the ref fetched when CODEX_RULES_REF is unset.
const DefaultUpstreamRef = "main"

// Config carries the resolved settings for one installer run.
type Config struct {
	// Workspace is the absolute destination directory.
	Workspace string

	// Targets selects the CLI consumers to install for. An empty set means
	// the choice is deferred to the decision provider.
	Targets manifest.TargetSet

	// Mode is the requested conflict-resolution mode ("backup", "skip",
	// "update", "quit"). Empty means prompt when conflicts exist.
	Mode string

	// SourceDir, when set, is a local package tree to install from instead
	// of fetching a snapshot.
	SourceDir string

	// RulesOverwrite pre-answers the rules-overwrite prompt when non-nil.
	RulesOverwrite *bool

	// Upstream configures the snapshot fetch fallback.
	Upstream UpstreamConfig
}

// UpstreamConfig locates the remote package source.
type UpstreamConfig struct {
	URL string
	Ref string
}

// Resolve builds a Config from command-line inputs, expanding paths and
// applying environment overrides.
func Resolve(workspace, target, mode, sourceDir string) (*Config, error) {
	cfg := &Config{
		Workspace: os.ExpandEnv(workspace),
		Mode:      mode,
		SourceDir: os.ExpandEnv(sourceDir),
	}

	if cfg.Workspace == "" {
		cfg.Workspace = "."
	}
	abs, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	cfg.Workspace = abs

	if target != "" {
		ts, err := manifest.ParseTargets(target)
		if err != nil {
			return nil, err
		}
		cfg.Targets = ts
	}

	if cfg.SourceDir != "" {
		abs, err := filepath.Abs(cfg.SourceDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve source path: %w", err)
		}
		cfg.SourceDir = abs
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyDefaults fills in zero-value fields, consulting the environment
// overrides for the upstream source.
func (c *Config) applyDefaults() {
	if c.Upstream.URL == "" {
		if v := os.Getenv(EnvUpstreamURL); v != "" {
			c.Upstream.URL = v
		} else {
			c.Upstream.URL = DefaultUpstreamURL
		}
	}
	if c.Upstream.Ref == "" {
		if v := os.Getenv(EnvUpstreamRef); v != "" {
			c.Upstream.Ref = v
		} else {
			c.Upstream.Ref = DefaultUpstreamRef
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace path is required")
	}
	if !filepath.IsAbs(c.Workspace) {
		return fmt.Errorf("workspace must be an absolute path: %s", c.Workspace)
	}

	switch c.Mode {
	case "", "backup", "skip", "update", "quit":
		// empty defers to the prompt
	default:
		return fmt.Errorf("invalid mode %q (must be backup, skip, update, or quit)", c.Mode)
	}

	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream url is required")
	}
	if c.Upstream.Ref == "" {
		return fmt.Errorf("upstream ref is required")
	}
	return nil
}
