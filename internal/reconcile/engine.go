package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"rulesync/internal/config"
	"rulesync/internal/manifest"
	"rulesync/internal/prompt"
	"rulesync/internal/source"
	"rulesync/internal/workspace"
)

// ErrQuit is returned when the user deliberately aborts the installation.
// It maps to a zero exit status; nothing was changed.
var ErrQuit = errors.New("installation aborted, no changes made")

// Engine orchestrates one installer run: scan the workspace, resolve the
// interactive decisions, compute the plan, apply it.
type Engine struct {
	cfg     *config.Config
	man     *manifest.Manifest
	prompts prompt.Provider
	logger  *slog.Logger
	dryRun  bool
}

// NewEngine creates a new reconciliation engine.
func NewEngine(cfg *config.Config, man *manifest.Manifest, prompts prompt.Provider, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:     cfg,
		man:     man,
		prompts: prompts,
		logger:  logger,
		dryRun:  dryRun,
	}
}

// Result reports what a run decided and what plan it produced.
type Result struct {
	Decisions Decisions
	Plan      *Plan
}

// Run executes the complete install against an already materialized source.
func (e *Engine) Run(ctx context.Context, src *source.Tree) (*Result, error) {
	e.logger.Info("starting install",
		"workspace", e.cfg.Workspace,
		"source", src.Root,
		"dry_run", e.dryRun)

	st, err := workspace.Scan(e.cfg.Workspace, e.man)
	if err != nil {
		return nil, fmt.Errorf("failed to scan workspace: %w", err)
	}

	d, err := e.resolveDecisions(st)
	if err != nil {
		return nil, err
	}
	if d.Mode == ModeQuit {
		return nil, ErrQuit
	}

	plan, err := BuildPlan(st, src, e.man, d)
	if err != nil {
		return nil, fmt.Errorf("failed to build plan: %w", err)
	}

	counts := plan.Counts()
	e.logger.Info("install plan",
		"mode", plan.Mode,
		"targets", d.Targets.String(),
		"backup", len(plan.BackupPaths),
		"copy", counts[ActionCopy],
		"preserve", counts[ActionPreserve],
		"append", counts[ActionAppendIfAbsent])

	result := &Result{Decisions: d, Plan: plan}

	if e.dryRun {
		e.logPlanDetails(plan)
		e.logger.Info("dry-run complete, no changes applied")
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := Apply(st.Root, src, plan, e.logger); err != nil {
		return nil, fmt.Errorf("failed to apply plan: %w", err)
	}

	e.logger.Info("install completed", "mode", plan.Mode, "targets", d.Targets.String())
	return result, nil
}

// resolveDecisions turns configuration and prompts into the fixed choices a
// plan is computed from. All interaction happens here; BuildPlan and Apply
// never ask questions.
func (e *Engine) resolveDecisions(st *workspace.State) (Decisions, error) {
	targets := e.cfg.Targets
	if targets.IsEmpty() {
		answer, err := e.prompts.ChooseTargets()
		if err != nil {
			return Decisions{}, fmt.Errorf("failed to select CLI targets: %w", err)
		}
		targets, err = manifest.ParseTargets(answer)
		if err != nil {
			return Decisions{}, err
		}
	}

	entries := e.man.ForTargets(targets)
	conflicts := st.Conflicts(entries)

	mode := ModeFresh
	if len(conflicts) > 0 {
		if e.cfg.Mode != "" {
			m, err := ParseMode(e.cfg.Mode)
			if err != nil {
				return Decisions{}, err
			}
			mode = m
		} else {
			answer, err := e.prompts.ChooseMode(conflicts)
			if err != nil {
				return Decisions{}, fmt.Errorf("failed to select install mode: %w", err)
			}
			m, err := ParseMode(answer)
			if err != nil {
				return Decisions{}, err
			}
			mode = m
		}
	}

	overwrite := false
	if st.HasRules && (mode == ModeFresh || mode == ModeBackup) {
		if e.cfg.RulesOverwrite != nil {
			overwrite = *e.cfg.RulesOverwrite
		} else {
			answer, err := e.prompts.ConfirmRulesOverwrite()
			if err != nil {
				return Decisions{}, fmt.Errorf("failed to resolve rules overwrite: %w", err)
			}
			overwrite = answer
		}
	}

	return Decisions{Targets: targets, Mode: mode, OverwriteRules: overwrite}, nil
}

// logPlanDetails logs every planned step for dry-run.
func (e *Engine) logPlanDetails(plan *Plan) {
	for _, rel := range plan.BackupPaths {
		e.logger.Info("[dry-run] would back up", "path", rel)
	}
	if plan.Tool != nil {
		e.logger.Info("[dry-run] would replace tool subtree",
			"path", plan.Tool.Subtree, "preserving", plan.Tool.PreserveSub)
	}
	for _, a := range plan.Actions {
		e.logger.Info("[dry-run] planned action", "action", string(a.Action), "path", a.Path)
	}
}
