package preflight

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"autoqc/internal/config"
	"autoqc/internal/deps"
)

// MinFreeBytes is the free space required on the staging filesystem. A
// converted mzML file is typically a few hundred megabytes.
const MinFreeBytes uint64 = 2 << 30

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies that the filesystem holding path has at least min bytes available.
func CheckFreeSpace(name, path string, minimum uint64) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := stat.Bavail * uint64(stat.Bsize) //nolint:gosec
	detail := fmt.Sprintf("%s free on %s", humanize.IBytes(free), path)
	if free < minimum {
		return Result{Name: name, Detail: fmt.Sprintf("%s (need %s)", detail, humanize.IBytes(minimum))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckSystemDeps evaluates the external analysis programs for the given config.
// Both the monitor and the CLI preflight command use this to avoid duplicating
// the requirements list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "Converter",
			Command:     cfg.Pipeline.Converter.Binary,
			Description: "Required to convert vendor raw files to mzML",
		},
		{
			Name:        "Extractor",
			Command:     cfg.Pipeline.Extractor.Binary,
			Description: "Required to extract peak tables",
		},
	}
	return deps.CheckBinaries(requirements)
}
