package reconcile

import (
	"fmt"

	"rulesync/internal/manifest"
	"rulesync/internal/source"
	"rulesync/internal/workspace"
)

// Mode is the conflict-resolution policy for one run.
type Mode string

const (
	// ModeFresh applies when no managed path conflicts with the destination.
	ModeFresh Mode = "fresh"
	// ModeBackup moves conflicting paths into a backup directory, then
	// installs as if fresh.
	ModeBackup Mode = "backup"
	// ModeSkip preserves every existing path and copies only what is absent.
	ModeSkip Mode = "skip"
	// ModeUpdate replaces only the local-search tool subtree, preserving
	// its config directory; everything else is untouched.
	ModeUpdate Mode = "update"
	// ModeQuit aborts with no changes.
	ModeQuit Mode = "quit"
)

// ParseMode converts a --mode flag value into a Mode. Fresh is never
// requested explicitly; it is forced when no conflicts exist.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeBackup, ModeSkip, ModeUpdate, ModeQuit:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid mode %q (must be backup, skip, update, or quit)", s)
}

// ActionKind describes what happens to one managed path.
type ActionKind string

const (
	ActionCopy              ActionKind = "copy"
	ActionPreserve          ActionKind = "preserve"
	ActionAppendIfAbsent    ActionKind = "append-if-absent"
	ActionDelete            ActionKind = "delete"
	ActionCreateEmpty       ActionKind = "create-empty"
	ActionRestoreFromBackup ActionKind = "restore-from-backup"
)

// PathAction is one step of a reconciliation plan. Path is workspace-relative.
type PathAction struct {
	Path   string
	Action ActionKind
}

// ToolReplace is the Update-mode replacement of the companion tool subtree.
// PreserveSub is saved aside before the replace and restored afterwards.
type ToolReplace struct {
	Subtree     string
	PreserveSub string
}

// Plan is the ordered outcome of reconciliation. Computing it has no side
// effects; Apply is the only side-effecting step. Actions are ordered
// copies, then appends, then marker creation; BackupPaths are moved before
// any action runs and Tool (when set) replaces its subtree right after.
type Plan struct {
	Mode Mode

	// BackupPaths are moved into a run-unique backup directory before
	// anything else.
	BackupPaths []string

	// RestoreRules replaces the rules copy with a restore of the backed-up
	// rules subtree (the user declined the overwrite after a backup run).
	RestoreRules bool

	// Tool is the Update-mode subtree replacement, nil otherwise.
	Tool *ToolReplace

	Actions []PathAction
}

// Counts returns the number of actions per kind, for logging.
func (p *Plan) Counts() map[ActionKind]int {
	out := make(map[ActionKind]int)
	for _, a := range p.Actions {
		out[a.Action]++
	}
	return out
}

// Decisions are the resolved interactive choices a plan is computed from.
type Decisions struct {
	Targets        manifest.TargetSet
	Mode           Mode
	OverwriteRules bool
}

// BuildPlan computes the reconciliation plan. It is a pure function of the
// scanned workspace state, the source tree listing, the manifest and the
// resolved decisions.
func BuildPlan(st *workspace.State, src *source.Tree, man *manifest.Manifest, d Decisions) (*Plan, error) {
	if d.Targets.IsEmpty() {
		return nil, fmt.Errorf("no CLI target selected")
	}

	entries := man.ForTargets(d.Targets)
	conflicts := st.Conflicts(entries)

	mode := d.Mode
	if len(conflicts) == 0 {
		// Nothing to reconcile against; requested mode is irrelevant.
		mode = ModeFresh
	}

	plan := &Plan{Mode: mode}

	switch mode {
	case ModeQuit:
		return plan, nil

	case ModeUpdate:
		for _, e := range entries {
			if st.Present[e.Path] {
				plan.Actions = append(plan.Actions, PathAction{Path: e.Path, Action: ActionPreserve})
			}
		}
		plan.Tool = &ToolReplace{Subtree: manifest.LocalSearchDir, PreserveSub: "config"}
		return plan, nil

	case ModeBackup:
		plan.BackupPaths = conflicts
		plan.RestoreRules = st.HasRules && !d.OverwriteRules

	case ModeFresh, ModeSkip:
		// handled below

	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	b := planBuilder{plan: plan, st: st, src: src, mode: mode, decisions: d}
	for _, e := range entries {
		switch e.Kind {
		case manifest.KindSubtree:
			if e.Path == manifest.CodexDir {
				b.addCodexSubtrees()
			} else {
				b.add(e.Path)
			}
		case manifest.KindEntry:
			b.add(e.Path)
		case manifest.KindGenerated:
			// Contents are produced by the append phase below.
		case manifest.KindMarker:
			// Emitted last so the marker never precedes the payload.
		}
	}

	// Config files are never whole-file copied; the append phase creates
	// them when absent and otherwise only inserts the registration block.
	if d.Targets.Codex {
		plan.Actions = append(plan.Actions, PathAction{Path: manifest.ConfigTOML, Action: ActionAppendIfAbsent})
	}
	if d.Targets.Gemini {
		plan.Actions = append(plan.Actions, PathAction{Path: manifest.SettingsJSON, Action: ActionAppendIfAbsent})
	}

	plan.Actions = append(plan.Actions, PathAction{Path: manifest.RootMarker, Action: ActionCreateEmpty})
	return plan, nil
}

// codexSubtrees are the copy units inside the .codex directory. The
// directory is never copied wholesale so the config file and the rules
// decision can be honored independently.
var codexSubtrees = []string{
	manifest.RulesDir,
	manifest.ToolsDir,
	manifest.ScenariosDir,
	manifest.SkillsDir,
	manifest.CodexAgentsFile,
}

type planBuilder struct {
	plan      *Plan
	st        *workspace.State
	src       *source.Tree
	mode      Mode
	decisions Decisions
}

func (b *planBuilder) addCodexSubtrees() {
	for _, sub := range codexSubtrees {
		if !b.src.Has(sub) {
			// Optional payload (e.g. scenarios) missing from this package
			// version; nothing to place.
			continue
		}
		if sub == manifest.RulesDir {
			b.plan.Actions = append(b.plan.Actions, PathAction{Path: sub, Action: b.rulesAction()})
			continue
		}
		b.add(sub)
	}
}

// rulesAction resolves the rules-subtree special case: the overwrite answer
// decides between copy, preserve, and (after a backup) restore.
func (b *planBuilder) rulesAction() ActionKind {
	switch b.mode {
	case ModeBackup:
		if b.plan.RestoreRules {
			return ActionRestoreFromBackup
		}
		return ActionCopy
	case ModeSkip:
		if b.st.Present[manifest.RulesDir] {
			return ActionPreserve
		}
		return ActionCopy
	default: // ModeFresh
		if b.st.HasRules && !b.decisions.OverwriteRules {
			return ActionPreserve
		}
		return ActionCopy
	}
}

func (b *planBuilder) add(rel string) {
	if b.mode == ModeSkip && b.st.Present[rel] {
		b.plan.Actions = append(b.plan.Actions, PathAction{Path: rel, Action: ActionPreserve})
		return
	}
	b.plan.Actions = append(b.plan.Actions, PathAction{Path: rel, Action: ActionCopy})
}
