package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autoqc/internal/logging"
)

// CleanStaleResult contains the outcome of a stale directory cleanup operation.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// RunKey identifies a run's staging area as "instrument/run".
func RunKey(instrumentID, runID string) string {
	return instrumentID + "/" + runID
}

// CleanStale removes run staging areas older than maxAge.
func CleanStale(ctx context.Context, stagingDir string, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	cutoff := time.Now().Add(-maxAge)
	return sweep(ctx, stagingDir, logger, "stale", func(d DirInfo) bool {
		return d.ModTime.Before(cutoff)
	})
}

// CleanOrphaned removes run staging areas whose key is not in active.
func CleanOrphaned(ctx context.Context, stagingDir string, active map[string]struct{}, logger *slog.Logger) CleanStaleResult {
	return sweep(ctx, stagingDir, logger, "orphaned", func(d DirInfo) bool {
		_, ok := active[d.Name]
		return !ok
	})
}

func sweep(ctx context.Context, stagingDir string, logger *slog.Logger, kind string, remove func(DirInfo) bool) CleanStaleResult {
	result := CleanStaleResult{}
	dirs, err := ListDirectories(stagingDir)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: stagingDir, Error: err})
		return result
	}
	for _, dir := range dirs {
		if ctx.Err() != nil {
			break
		}
		if !remove(dir) {
			continue
		}
		if err := os.RemoveAll(dir.Path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dir.Path, Error: err})
			if logger != nil {
				logger.Warn("failed to remove "+kind+" staging directory",
					logging.String("path", dir.Path),
					logging.Error(err),
					logging.String(logging.FieldEventType, "staging_cleanup_failed"),
					logging.String(logging.FieldErrorHint, "check staging_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, dir.Path)
		if logger != nil {
			logger.Info("removed "+kind+" staging directory",
				logging.String("path", dir.Path),
				logging.Duration("age", time.Since(dir.ModTime)),
				logging.Int64("reclaimed_bytes", dir.Size),
				logging.String(logging.FieldEventType, "staging_cleanup"),
			)
		}
	}
	return result
}

// ListDirectories returns every run staging area (instrument/run) with its metadata.
func ListDirectories(stagingDir string) ([]DirInfo, error) {
	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return nil, nil
	}

	instruments, err := os.ReadDir(stagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, inst := range instruments {
		if !inst.IsDir() {
			continue
		}
		instPath := filepath.Join(stagingDir, inst.Name())
		runs, err := os.ReadDir(instPath)
		if err != nil {
			continue
		}
		for _, run := range runs {
			if !run.IsDir() {
				continue
			}
			info, err := run.Info()
			if err != nil {
				continue
			}
			dirPath := filepath.Join(instPath, run.Name())
			size, _ := dirSize(dirPath)
			dirs = append(dirs, DirInfo{
				Name:    RunKey(inst.Name(), run.Name()),
				Path:    dirPath,
				ModTime: info.ModTime(),
				Size:    size,
			})
		}
	}
	return dirs, nil
}

// DirInfo contains metadata about a run staging area.
type DirInfo struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// dirSize calculates the total size of a directory recursively.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best effort
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
