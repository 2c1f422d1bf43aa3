// Package deps resolves the external analysis programs a run depends on.
package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Requirement names an external program and the command configured for it.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports whether a requirement resolved to an executable.
type Status struct {
	Requirement
	Available bool
	Path      string
	Detail    string
}

// CheckBinaries resolves every requirement. Commands containing a path
// separator are checked in place; bare names are looked up on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		req.Description = strings.TrimSpace(req.Description)
		status := Status{Requirement: req}
		path, err := resolve(req.Command)
		if err != nil {
			status.Detail = err.Error()
		} else {
			status.Available = true
			status.Path = path
		}
		results = append(results, status)
	}
	return results
}

func resolve(command string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("command not configured")
	}
	if !strings.ContainsRune(command, filepath.Separator) {
		path, err := exec.LookPath(command)
		if err != nil {
			return "", fmt.Errorf("binary %q not found on PATH", command)
		}
		return path, nil
	}
	info, err := os.Stat(command)
	if err != nil {
		return "", fmt.Errorf("binary %q not found", command)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return "", fmt.Errorf("%q is not executable", command)
	}
	return command, nil
}
