package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"rulesync/internal/config"
	"rulesync/internal/manifest"
	"rulesync/internal/prompt"
	"rulesync/internal/reconcile"
	"rulesync/internal/selftest"
	"rulesync/internal/shellenv"
	"rulesync/internal/source"
	"rulesync/internal/uninstall"
	"rulesync/internal/workspace"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	logLevel  string
	logFormat string

	// Install flags
	targetFlag  string
	modeFlag    string
	sourceFlag  string
	dryRun      bool
	yesRules    bool
	noRules     bool
	skipEnv     bool
	skipDoctor  bool

	// Uninstall flags
	forceUninstall bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rulesync",
	Short: "Install the codex-rules ruleset into a workspace",
	Long: `rulesync places the codex-rules prompt/policy package into a workspace
directory for the Codex and Gemini CLIs: rule documents, the local-search
companion tool, per-CLI entry files and tool registration.

Existing installations are reconciled rather than clobbered: user-edited
config files are only ever appended to, and conflicting paths can be backed
up, skipped, or updated in place.`,
	SilenceUsage: true,
}

var installCmd = &cobra.Command{
	Use:   "install [workspace]",
	Short: "Install or update the ruleset in a workspace",
	Long: `Install reconciles the package source with the workspace and applies the
resulting plan. With no conflicting paths the full package is placed fresh.
When an installation already exists, --mode (or an interactive prompt)
chooses between backing up, skipping existing files, updating only the
local-search tool, or quitting.

The source is an explicit --source directory, the package checkout the
binary runs from, or a snapshot of the upstream package repository
(override with CODEX_RULES_URL / CODEX_RULES_REF).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall [workspace]",
	Short: "Remove the ruleset from a workspace",
	Long: `Uninstall deletes every managed path present in the workspace after a
single confirmation, removes the local-search cache directories, and reports
shell profiles that still reference the workspace.

Without a workspace argument the workspace is located by searching upward
from the current directory for the ` + manifest.RootMarker + ` marker.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUninstall,
}

var doctorCmd = &cobra.Command{
	Use:   "doctor [workspace]",
	Short: "Check the installed companion tool",
	Long: `Doctor probes for a usable Python interpreter and performs an MCP
initialize round-trip against the installed local-search server. Problems
are reported as warnings; the exit status is non-zero only when the
workspace is not installed at all.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDoctor,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rulesync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	installCmd.Flags().StringVar(&targetFlag, "target", "", "CLI target: codex, gemini or all (default: prompt, or all when non-interactive)")
	installCmd.Flags().StringVar(&modeFlag, "mode", "", "conflict mode: backup, skip, update or quit (default: prompt, or skip when non-interactive)")
	installCmd.Flags().StringVar(&sourceFlag, "source", "", "install from a local package directory instead of fetching")
	installCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	installCmd.Flags().BoolVar(&yesRules, "yes-rules", false, "overwrite an existing rules directory without asking")
	installCmd.Flags().BoolVar(&noRules, "no-rules", false, "keep an existing rules directory without asking")
	installCmd.Flags().BoolVar(&skipEnv, "no-shell-env", false, "do not touch the shell profile")
	installCmd.Flags().BoolVar(&skipDoctor, "no-self-test", false, "skip the companion tool self-test")
	installCmd.MarkFlagsMutuallyExclusive("yes-rules", "no-rules")

	uninstallCmd.Flags().BoolVarP(&forceUninstall, "force", "f", false, "delete without confirmation")

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	ws := "."
	if len(args) > 0 {
		ws = args[0]
	}

	// A workspace .env may carry the upstream overrides; load it before the
	// config reads the environment. Missing file is the normal case.
	_ = godotenv.Load(filepath.Join(ws, ".env"))

	cfg, err := config.Resolve(ws, targetFlag, modeFlag, sourceFlag)
	if err != nil {
		return err
	}
	switch {
	case yesRules:
		v := true
		cfg.RulesOverwrite = &v
	case noRules:
		v := false
		cfg.RulesOverwrite = &v
	}

	man, err := manifest.Load()
	if err != nil {
		return err
	}

	src, cleanup, err := source.Resolve(ctx, cfg, source.NewGitFetcher(), logger)
	if err != nil {
		logger.Error("source resolution failed", "error", err)
		return err
	}
	defer cleanup()

	// The companion tool needs a Python runtime; refuse to place it where
	// none exists rather than producing a broken install.
	interpreter := ""
	if !skipDoctor && !dryRun {
		interpreter, err = selftest.PythonInterpreter(ctx)
		if err != nil {
			logger.Error("no usable python interpreter for the local-search tool (use --no-self-test to install anyway)", "error", err)
			return err
		}
	}

	engine := reconcile.NewEngine(cfg, man, newProvider(), logger, dryRun)
	result, err := engine.Run(ctx, src)
	if err != nil {
		if errors.Is(err, reconcile.ErrQuit) {
			logger.Info("quit requested, no changes made")
			return nil
		}
		logger.Error("install failed", "error", err)
		return err
	}
	if dryRun {
		return nil
	}

	if result.Decisions.Targets.Codex && !skipEnv {
		if err := setupShellEnv(cfg.Workspace, logger); err != nil {
			logger.Warn("failed to update shell profile", "error", err)
		}
	}
	if !skipDoctor {
		if err := selftest.CheckServer(ctx, interpreter, cfg.Workspace, logger); err != nil {
			logger.Warn("local-search self-test failed (install is still considered successful)", "error", err)
		} else {
			logger.Info("local-search self-test passed", "interpreter", interpreter)
		}
	}
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	_, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	root := ""
	if len(args) > 0 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		root = abs
	} else {
		found, err := workspace.FindRoot(".")
		if err != nil {
			logger.Error("workspace detection failed", "error", err)
			return err
		}
		root = found
	}

	man, err := manifest.Load()
	if err != nil {
		return err
	}

	err = uninstall.Run(root, man, newProvider(), logger, uninstall.Options{Force: forceUninstall})
	if errors.Is(err, uninstall.ErrAborted) {
		logger.Info("uninstall aborted, no changes made")
		return nil
	}
	if err != nil {
		logger.Error("uninstall failed", "error", err)
	}
	return err
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	ws := "."
	if len(args) > 0 {
		ws = args[0]
	}
	root, err := workspace.FindRoot(ws)
	if err != nil {
		logger.Error("not an installed workspace", "error", err)
		return err
	}

	selftest.Run(ctx, root, logger)
	return nil
}

// newProvider picks the decision source: the terminal when attached to one,
// otherwise scripted non-destructive defaults.
func newProvider() prompt.Provider {
	if prompt.Interactive() {
		return prompt.NewTerminal(os.Stdin, os.Stderr)
	}
	return prompt.NonInteractive()
}

func setupShellEnv(workspaceRoot string, logger *slog.Logger) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	codexDir := filepath.Join(workspaceRoot, manifest.CodexDir)
	_, err = shellenv.EnsureCodexHome(home, os.Getenv("SHELL"), codexDir, logger)
	return err
}

func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
