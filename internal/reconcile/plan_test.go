package reconcile

import (
	"testing"

	"rulesync/internal/manifest"
	"rulesync/internal/source"
	"rulesync/internal/testutil"
	"rulesync/internal/workspace"
)

func loadManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Load()
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func newSource(t *testing.T) *source.Tree {
	t.Helper()
	dir := t.TempDir()
	testutil.BuildSourceTree(t, dir)
	tree, err := source.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

func scan(t *testing.T, root string, man *manifest.Manifest) *workspace.State {
	t.Helper()
	st, err := workspace.Scan(root, man)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

// installFixture writes a complete installation into root.
func installFixture(t *testing.T, root string) {
	t.Helper()
	testutil.WriteFile(t, root, ".codex-root", "")
	testutil.WriteFile(t, root, ".codex/AGENTS.md", "agents")
	testutil.WriteFile(t, root, ".codex/rules/core-rules.md", "rules")
	testutil.WriteFile(t, root, ".codex/config.toml", "[mcp_servers.local-search]\ncommand = \"python3\"\n")
	testutil.WriteFile(t, root, ".codex/tools/local-search/mcp/server.py", "old server")
	testutil.WriteFile(t, root, ".codex/tools/local-search/config/config.json", "{}")
	testutil.WriteFile(t, root, "docs/INSTALL.md", "docs")
	testutil.WriteFile(t, root, "AGENTS.md", "entry")
	testutil.WriteFile(t, root, "GEMINI.md", "entry")
	testutil.WriteFile(t, root, ".gemini/settings.json", "{\"mcpServers\":{\"local-search\":{}}}")
}

func findAction(p *Plan, path string) (PathAction, bool) {
	for _, a := range p.Actions {
		if a.Path == path {
			return a, true
		}
	}
	return PathAction{}, false
}

func TestBuildPlanForcesFreshWithoutConflicts(t *testing.T) {
	man := loadManifest(t)
	st := scan(t, t.TempDir(), man)

	// Backup was requested, but an empty workspace has nothing to reconcile.
	plan, err := BuildPlan(st, newSource(t), man, Decisions{Targets: manifest.AllTargets(), Mode: ModeBackup})
	if err != nil {
		t.Fatalf("BuildPlan returned error: %v", err)
	}
	if plan.Mode != ModeFresh {
		t.Errorf("mode = %s, want fresh", plan.Mode)
	}
	if len(plan.BackupPaths) != 0 {
		t.Errorf("fresh plan has backup paths: %v", plan.BackupPaths)
	}
}

func TestBuildPlanFresh(t *testing.T) {
	man := loadManifest(t)
	st := scan(t, t.TempDir(), man)

	plan, err := BuildPlan(st, newSource(t), man, Decisions{Targets: manifest.AllTargets(), Mode: ModeFresh})
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []struct {
		path   string
		action ActionKind
	}{
		{".codex/rules", ActionCopy},
		{".codex/tools", ActionCopy},
		{".codex/AGENTS.md", ActionCopy},
		{"docs", ActionCopy},
		{"AGENTS.md", ActionCopy},
		{"GEMINI.md", ActionCopy},
		{".codex/config.toml", ActionAppendIfAbsent},
		{".gemini/settings.json", ActionAppendIfAbsent},
		{".codex-root", ActionCreateEmpty},
	} {
		a, ok := findAction(plan, want.path)
		if !ok {
			t.Errorf("plan missing action for %s", want.path)
			continue
		}
		if a.Action != want.action {
			t.Errorf("%s action = %s, want %s", want.path, a.Action, want.action)
		}
	}

	// The marker must come last: a crash mid-apply must not leave a marked
	// but empty workspace.
	last := plan.Actions[len(plan.Actions)-1]
	if last.Path != manifest.RootMarker || last.Action != ActionCreateEmpty {
		t.Errorf("last action = %+v, want the root marker", last)
	}
}

func TestBuildPlanSkip(t *testing.T) {
	man := loadManifest(t)
	root := t.TempDir()
	installFixture(t, root)
	st := scan(t, root, man)

	plan, err := BuildPlan(st, newSource(t), man, Decisions{Targets: manifest.AllTargets(), Mode: ModeSkip})
	if err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{".codex/rules", ".codex/tools", "docs", "AGENTS.md", "GEMINI.md"} {
		a, ok := findAction(plan, path)
		if !ok {
			t.Fatalf("plan missing action for %s", path)
		}
		if a.Action != ActionPreserve {
			t.Errorf("%s action = %s, want preserve", path, a.Action)
		}
	}

	// Sub-paths absent from the installation are still filled in.
	a, ok := findAction(plan, ".codex/scenarios")
	if !ok {
		t.Fatal("plan missing action for .codex/scenarios")
	}
	if a.Action != ActionCopy {
		t.Errorf(".codex/scenarios action = %s, want copy", a.Action)
	}
}

func TestBuildPlanBackup(t *testing.T) {
	man := loadManifest(t)
	root := t.TempDir()
	installFixture(t, root)
	st := scan(t, root, man)

	t.Run("overwrite rules", func(t *testing.T) {
		plan, err := BuildPlan(st, newSource(t), man, Decisions{
			Targets:        manifest.AllTargets(),
			Mode:           ModeBackup,
			OverwriteRules: true,
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(plan.BackupPaths) == 0 {
			t.Fatal("backup plan has no backup paths")
		}
		a, _ := findAction(plan, ".codex/rules")
		if a.Action != ActionCopy {
			t.Errorf("rules action = %s, want copy", a.Action)
		}
		if plan.RestoreRules {
			t.Error("RestoreRules = true despite overwrite approval")
		}
	})

	t.Run("decline rules", func(t *testing.T) {
		plan, err := BuildPlan(st, newSource(t), man, Decisions{
			Targets: manifest.AllTargets(),
			Mode:    ModeBackup,
		})
		if err != nil {
			t.Fatal(err)
		}
		if !plan.RestoreRules {
			t.Error("RestoreRules = false after declining overwrite")
		}
		a, _ := findAction(plan, ".codex/rules")
		if a.Action != ActionRestoreFromBackup {
			t.Errorf("rules action = %s, want restore-from-backup", a.Action)
		}
	})
}

func TestBuildPlanUpdate(t *testing.T) {
	man := loadManifest(t)
	root := t.TempDir()
	installFixture(t, root)
	st := scan(t, root, man)

	plan, err := BuildPlan(st, newSource(t), man, Decisions{Targets: manifest.AllTargets(), Mode: ModeUpdate})
	if err != nil {
		t.Fatal(err)
	}

	if plan.Tool == nil {
		t.Fatal("update plan has no tool replacement")
	}
	if plan.Tool.Subtree != manifest.LocalSearchDir || plan.Tool.PreserveSub != "config" {
		t.Errorf("tool replace = %+v", plan.Tool)
	}
	for _, a := range plan.Actions {
		if a.Action != ActionPreserve {
			t.Errorf("update plan contains %s for %s, want preserve only", a.Action, a.Path)
		}
	}
	if len(plan.BackupPaths) != 0 {
		t.Error("update plan has backup paths")
	}
}

func TestBuildPlanQuit(t *testing.T) {
	man := loadManifest(t)
	root := t.TempDir()
	installFixture(t, root)
	st := scan(t, root, man)

	plan, err := BuildPlan(st, newSource(t), man, Decisions{Targets: manifest.AllTargets(), Mode: ModeQuit})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Actions) != 0 || len(plan.BackupPaths) != 0 || plan.Tool != nil {
		t.Errorf("quit plan is not empty: %+v", plan)
	}
}

func TestBuildPlanTargetGating(t *testing.T) {
	man := loadManifest(t)
	src := newSource(t)

	t.Run("codex only", func(t *testing.T) {
		st := scan(t, t.TempDir(), man)
		plan, err := BuildPlan(st, src, man, Decisions{Targets: manifest.TargetSet{Codex: true}, Mode: ModeFresh})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := findAction(plan, manifest.GeminiEntry); ok {
			t.Error("codex-only plan writes GEMINI.md")
		}
		if _, ok := findAction(plan, manifest.SettingsJSON); ok {
			t.Error("codex-only plan writes .gemini/settings.json")
		}
	})

	t.Run("gemini only", func(t *testing.T) {
		st := scan(t, t.TempDir(), man)
		plan, err := BuildPlan(st, src, man, Decisions{Targets: manifest.TargetSet{Gemini: true}, Mode: ModeFresh})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := findAction(plan, manifest.AgentsEntry); ok {
			t.Error("gemini-only plan writes AGENTS.md")
		}
		if _, ok := findAction(plan, manifest.ConfigTOML); ok {
			t.Error("gemini-only plan writes .codex/config.toml")
		}
		// The shared payload still lands: GEMINI.md imports the rules.
		if _, ok := findAction(plan, manifest.RulesDir); !ok {
			t.Error("gemini-only plan does not install the rules")
		}
	})
}

func TestBuildPlanNoTargets(t *testing.T) {
	man := loadManifest(t)
	st := scan(t, t.TempDir(), man)
	if _, err := BuildPlan(st, newSource(t), man, Decisions{Mode: ModeFresh}); err == nil {
		t.Error("expected error for empty target set")
	}
}

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"backup", "skip", "update", "quit"} {
		if _, err := ParseMode(valid); err != nil {
			t.Errorf("ParseMode(%q) returned error: %v", valid, err)
		}
	}
	for _, invalid := range []string{"", "fresh", "merge"} {
		if _, err := ParseMode(invalid); err == nil {
			t.Errorf("ParseMode(%q) succeeded, want error", invalid)
		}
	}
}
