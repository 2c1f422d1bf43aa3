package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RunLogPattern matches the per-run monitor log files in the log directory.
const RunLogPattern = "autoqcd-*.log"

// PruneRunLogs removes monitor logs in dir untouched for more than
// retentionDays and returns the removed paths. keep is never removed, and a
// retentionDays of 0 disables pruning.
func PruneRunLogs(logger *slog.Logger, dir string, retentionDays int, keep string) []string {
	if retentionDays <= 0 || dir == "" {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	if abs, err := filepath.Abs(keep); err == nil {
		keep = abs
	}

	matches, err := filepath.Glob(filepath.Join(dir, RunLogPattern))
	if err != nil {
		return nil
	}
	var removed []string
	for _, path := range matches {
		if abs, err := filepath.Abs(path); err == nil && abs == keep {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "run log prune failed; file remains", "log_retention_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check permissions on paths.log_dir"),
				String(FieldImpact, "old run log stays on disk"),
			)
			continue
		}
		removed = append(removed, path)
		if logger != nil {
			logger.Info("run log pruned",
				String("path", path),
				Duration("age", time.Since(info.ModTime()).Truncate(time.Hour)),
				String(FieldEventType, "log_pruned"),
			)
		}
	}
	return removed
}
