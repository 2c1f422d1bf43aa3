package preflight

import (
	"fmt"

	"autoqc/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Detail   string
	Optional bool
}

// RunAll executes the checks a monitor needs before it can process samples.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	results = append(results, CheckDirectoryAccess("Staging directory", cfg.Paths.StagingDir))
	results = append(results, CheckDirectoryAccess("Results directory", cfg.Paths.ResultsDir))
	if results[0].Passed {
		results = append(results, CheckFreeSpace("Staging free space", cfg.Paths.StagingDir, MinFreeBytes))
	}

	for _, status := range CheckSystemDeps(cfg) {
		detail := status.Path
		if !status.Available {
			detail = status.Detail
		}
		results = append(results, Result{
			Name:     status.Name,
			Passed:   status.Available,
			Detail:   detail,
			Optional: status.Optional,
		})
	}
	return results
}

// FirstFailure returns an error describing the first failed required check.
func FirstFailure(results []Result) error {
	for _, r := range results {
		if !r.Passed && !r.Optional {
			return fmt.Errorf("preflight %s: %s", r.Name, r.Detail)
		}
	}
	return nil
}
