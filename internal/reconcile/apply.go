package reconcile

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"rulesync/internal/manifest"
	"rulesync/internal/source"
)

// backupDirPrefix names the per-run backup directory inside the workspace.
const backupDirPrefix = ".codex-backup-"

// Apply executes a plan against the workspace. Phases run in a fixed order:
// backup moves, the Update-mode tool replace, then the planned actions
// (copies, appends, marker creation, in plan order). There is no rollback;
// a failure surfaces at the failing step with the earlier steps applied.
func Apply(root string, src *source.Tree, plan *Plan, logger *slog.Logger) error {
	if plan.Mode == ModeQuit {
		return nil
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}

	var backupDir string
	if len(plan.BackupPaths) > 0 {
		dir, err := createBackupDir(root, time.Now())
		if err != nil {
			return err
		}
		backupDir = dir
		logger.Info("backing up existing paths", "dir", backupDir, "count", len(plan.BackupPaths))
		for _, rel := range plan.BackupPaths {
			from := filepath.Join(root, filepath.FromSlash(rel))
			to := filepath.Join(backupDir, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
				return fmt.Errorf("failed to prepare backup for %s: %w", rel, err)
			}
			if err := os.Rename(from, to); err != nil {
				return fmt.Errorf("failed to back up %s: %w", rel, err)
			}
		}
	}

	if plan.Tool != nil {
		if err := replaceTool(root, src, plan.Tool, logger); err != nil {
			return fmt.Errorf("failed to update %s: %w", plan.Tool.Subtree, err)
		}
	}

	for _, a := range plan.Actions {
		dest := filepath.Join(root, filepath.FromSlash(a.Path))

		switch a.Action {
		case ActionPreserve:
			logger.Debug("preserving existing path", "path", a.Path)

		case ActionCopy:
			logger.Info("installing", "path", a.Path)
			if content, ok := entryContent(a.Path); ok {
				if err := writeFileAtomic(dest, content, 0644); err != nil {
					return fmt.Errorf("failed to write %s: %w", a.Path, err)
				}
				continue
			}
			if err := copyPath(src.Join(a.Path), dest); err != nil {
				return fmt.Errorf("failed to install %s: %w", a.Path, err)
			}

		case ActionAppendIfAbsent:
			switch a.Path {
			case manifest.ConfigTOML:
				if err := appendServerBlock(dest, logger); err != nil {
					return err
				}
			case manifest.SettingsJSON:
				if err := mergeSettings(dest); err != nil {
					return err
				}
			default:
				return fmt.Errorf("no append handler for %s", a.Path)
			}

		case ActionRestoreFromBackup:
			logger.Info("restoring from backup", "path", a.Path)
			if backupDir == "" {
				return fmt.Errorf("plan restores %s but no backup was made", a.Path)
			}
			from := filepath.Join(backupDir, filepath.FromSlash(a.Path))
			if err := copyPath(from, dest); err != nil {
				return fmt.Errorf("failed to restore %s: %w", a.Path, err)
			}

		case ActionCreateEmpty:
			if _, err := os.Stat(dest); err == nil {
				continue
			}
			if err := os.WriteFile(dest, nil, 0644); err != nil {
				return fmt.Errorf("failed to create %s: %w", a.Path, err)
			}

		case ActionDelete:
			logger.Info("deleting", "path", a.Path)
			if err := os.RemoveAll(dest); err != nil {
				return fmt.Errorf("failed to delete %s: %w", a.Path, err)
			}

		default:
			return fmt.Errorf("unknown action %q for %s", a.Action, a.Path)
		}
	}

	return nil
}

// createBackupDir allocates a directory no previous or concurrent run has
// used: second-level timestamp plus a random suffix, re-rolled on collision.
func createBackupDir(root string, now time.Time) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		name := fmt.Sprintf("%s%s-%s", backupDirPrefix, now.Format("20060102-150405"), uuid.NewString()[:8])
		path := filepath.Join(root, name)
		err := os.Mkdir(path, 0755)
		if err == nil {
			return path, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to create backup directory: %w", err)
		}
	}
	return "", fmt.Errorf("failed to allocate a unique backup directory in %s", root)
}

// replaceTool swaps the companion-tool subtree for the source version while
// keeping the user's config directory. The save-aside lives in a run-unique
// temp directory so interleaved or repeated updates cannot collide.
func replaceTool(root string, src *source.Tree, tool *ToolReplace, logger *slog.Logger) error {
	srcTool := src.Join(tool.Subtree)
	if _, err := os.Stat(srcTool); err != nil {
		return fmt.Errorf("source has no %s: %w", tool.Subtree, err)
	}

	destTool := filepath.Join(root, filepath.FromSlash(tool.Subtree))
	preserve := filepath.Join(destTool, tool.PreserveSub)

	if _, err := os.Stat(destTool); os.IsNotExist(err) {
		logger.Info("installing tool subtree", "path", tool.Subtree)
		return copyPath(srcTool, destTool)
	}

	saved := ""
	if _, err := os.Stat(preserve); err == nil {
		tmp, err := os.MkdirTemp(root, ".rulesync-keep-*")
		if err != nil {
			return fmt.Errorf("failed to create save-aside directory: %w", err)
		}
		defer func() {
			_ = os.RemoveAll(tmp)
		}()
		saved = filepath.Join(tmp, tool.PreserveSub)
		if err := os.Rename(preserve, saved); err != nil {
			return fmt.Errorf("failed to save %s aside: %w", tool.PreserveSub, err)
		}
	}

	logger.Info("replacing tool subtree", "path", tool.Subtree, "preserving", tool.PreserveSub)
	if err := os.RemoveAll(destTool); err != nil {
		return err
	}
	if err := copyPath(srcTool, destTool); err != nil {
		return err
	}

	if saved != "" {
		if err := os.RemoveAll(preserve); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(preserve), 0755); err != nil {
			return err
		}
		if err := os.Rename(saved, preserve); err != nil {
			return fmt.Errorf("failed to restore %s: %w", tool.PreserveSub, err)
		}
	}
	return nil
}

// copyPath copies a file or directory tree. An existing destination is
// removed first so the result matches the source exactly.
func copyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	if info.IsDir() {
		return copyTree(src, dst)
	}
	return copyFile(src, dst)
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(path, target)
	})
}

// copyFile copies a file with an atomic temp-file-and-rename write.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".rulesync-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(srcInfo.Mode().Perm()); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dst)
}

// writeFileAtomic writes generated content with the same temp-and-rename
// discipline as copyFile.
func writeFileAtomic(dst string, content []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".rulesync-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(content); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, dst)
}
