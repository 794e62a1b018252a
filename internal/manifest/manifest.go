package manifest

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Target identifies which CLI consumer owns a managed path.
type Target string

const (
	TargetCodex  Target = "codex"
	TargetGemini Target = "gemini"
	TargetCommon Target = "common"
)

// Kind describes how the installer treats a managed path.
type Kind string

const (
	// KindSubtree is copied wholesale from the source package.
	KindSubtree Kind = "subtree"
	// KindEntry is a generated CLI entry file (AGENTS.md, GEMINI.md).
	KindEntry Kind = "entry"
	// KindGenerated is a directory whose contents the installer produces
	// itself rather than copying from the source package.
	KindGenerated Kind = "generated"
	// KindMarker is the zero-byte workspace marker file.
	KindMarker Kind = "marker"
)

// Fixed path names within a workspace. These are contract surface: the
// shipped ruleset, both CLIs and the companion tool all address them by
// these exact names.
const (
	RootMarker   = ".codex-root"
	CodexDir     = ".codex"
	DocsDir      = "docs"
	GeminiDir    = ".gemini"
	AgentsEntry  = "AGENTS.md"
	GeminiEntry  = "GEMINI.md"
	ConfigTOML   = ".codex/config.toml"
	SettingsJSON = ".gemini/settings.json"

	RulesDir        = ".codex/rules"
	ToolsDir        = ".codex/tools"
	ScenariosDir    = ".codex/scenarios"
	SkillsDir       = ".codex/skills"
	CodexAgentsFile = ".codex/AGENTS.md"

	LocalSearchDir       = ".codex/tools/local-search"
	LocalSearchConfigDir = ".codex/tools/local-search/config"
	LocalSearchServer    = ".codex/tools/local-search/mcp/server.py"

	// PrimaryPolicyFile is the rule document both entry files point at.
	PrimaryPolicyFile = ".codex/rules/core-rules.md"

	// ServerName is the registration key for the companion tool in both
	// CLI configs.
	ServerName = "local-search"
)

// Entry is one managed top-level path.
type Entry struct {
	Tag    string `yaml:"tag"`
	Path   string `yaml:"path"`
	Kind   Kind   `yaml:"kind"`
	Target Target `yaml:"target"`
}

// Manifest enumerates every path the installer creates, preserves or removes.
type Manifest struct {
	Paths []Entry `yaml:"paths"`
}

//go:embed manifest.yaml
var embedded []byte

// Load parses the embedded managed-path manifest.
func Load() (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(embedded, &m); err != nil {
		return nil, fmt.Errorf("failed to parse embedded manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid embedded manifest: %w", err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if len(m.Paths) == 0 {
		return fmt.Errorf("no managed paths declared")
	}
	seen := make(map[string]bool)
	for _, e := range m.Paths {
		if e.Tag == "" || e.Path == "" {
			return fmt.Errorf("entry with empty tag or path")
		}
		if seen[e.Tag] {
			return fmt.Errorf("duplicate tag %q", e.Tag)
		}
		seen[e.Tag] = true
		switch e.Kind {
		case KindSubtree, KindEntry, KindGenerated, KindMarker:
		default:
			return fmt.Errorf("entry %q: unknown kind %q", e.Tag, e.Kind)
		}
		switch e.Target {
		case TargetCodex, TargetGemini, TargetCommon:
		default:
			return fmt.Errorf("entry %q: unknown target %q", e.Tag, e.Target)
		}
	}
	return nil
}

// ForTargets returns the managed entries owned by the selected CLI targets,
// plus the common ones, in manifest order.
func (m *Manifest) ForTargets(ts TargetSet) []Entry {
	var out []Entry
	for _, e := range m.Paths {
		if e.Target == TargetCommon || ts.Has(e.Target) {
			out = append(out, e)
		}
	}
	return out
}

// Lookup returns the entry with the given tag.
func (m *Manifest) Lookup(tag string) (Entry, bool) {
	for _, e := range m.Paths {
		if e.Tag == tag {
			return e, true
		}
	}
	return Entry{}, false
}

// TargetSet is a non-empty subset of the supported CLI targets.
type TargetSet struct {
	Codex  bool
	Gemini bool
}

// AllTargets selects both CLI targets.
func AllTargets() TargetSet {
	return TargetSet{Codex: true, Gemini: true}
}

// ParseTargets converts a --target flag value into a TargetSet.
func ParseTargets(s string) (TargetSet, error) {
	switch s {
	case "", "all":
		return AllTargets(), nil
	case "codex":
		return TargetSet{Codex: true}, nil
	case "gemini":
		return TargetSet{Gemini: true}, nil
	default:
		return TargetSet{}, fmt.Errorf("invalid target %q (must be codex, gemini, or all)", s)
	}
}

// Has reports whether the set contains the given target.
func (ts TargetSet) Has(t Target) bool {
	switch t {
	case TargetCodex:
		return ts.Codex
	case TargetGemini:
		return ts.Gemini
	case TargetCommon:
		return true
	}
	return false
}

// IsEmpty reports whether no target is selected.
func (ts TargetSet) IsEmpty() bool {
	return !ts.Codex && !ts.Gemini
}

// String returns the flag form of the set.
func (ts TargetSet) String() string {
	switch {
	case ts.Codex && ts.Gemini:
		return "all"
	case ts.Codex:
		return "codex"
	case ts.Gemini:
		return "gemini"
	}
	return "none"
}
