package staging

import (
	"fmt"
	"os"
	"path/filepath"

	"autoqc/internal/config"
)

// Area is a run's exclusive staging directory tree.
type Area struct {
	Root       string
	Conversion string
	Extraction string
}

// ForRun returns the staging area for one run.
func ForRun(cfg *config.Config, instrumentID, runID string) Area {
	root := cfg.RunStagingDir(instrumentID, runID)
	return Area{
		Root:       root,
		Conversion: filepath.Join(root, "conversion"),
		Extraction: filepath.Join(root, "extraction"),
	}
}

// Prepare creates empty conversion and extraction directories, discarding
// anything a previous process left behind.
func (a Area) Prepare() error {
	if err := os.RemoveAll(a.Root); err != nil {
		return fmt.Errorf("clear staging area: %w", err)
	}
	for _, dir := range []string{a.Conversion, a.Extraction} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create staging dir %s: %w", dir, err)
		}
	}
	return nil
}

// Release removes the whole area.
func (a Area) Release() error {
	if err := os.RemoveAll(a.Root); err != nil {
		return fmt.Errorf("release staging area: %w", err)
	}
	return nil
}
