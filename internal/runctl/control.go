// Package runctl starts, stops, and restarts the per-run monitor processes.
// The monitor's PID is kept on the run row so any CLI invocation can find it.
package runctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"autoqc/internal/store"
)

// MonitorBinary is the executable name of the per-run monitor.
const MonitorBinary = "autoqcd"

// ErrNotRunning indicates the run has no live monitor process.
var ErrNotRunning = errors.New("monitor not running")

// RunStore is the subset of the store used to track monitor processes.
type RunStore interface {
	GetRun(ctx context.Context, instrumentID, runID string) (*store.Run, error)
	SetMonitorPID(ctx context.Context, instrumentID, runID string, pid int) error
}

// LaunchOptions controls monitor process launch behavior.
type LaunchOptions struct {
	Executable string
	ConfigPath string
}

// StopResult captures monitor stop/termination outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// RestartResult captures stop/start outcomes for a monitor restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	PID        int
}

// ResolveExecutable finds the monitor binary next to the running executable,
// falling back to PATH.
func ResolveExecutable() (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), MonitorBinary)
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(MonitorBinary)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", MonitorBinary, err)
	}
	return path, nil
}

// Launch starts a detached monitor for the run and returns its PID.
func Launch(opts LaunchOptions, acquisitionPath, instrumentID, runID string) (int, error) {
	executable := strings.TrimSpace(opts.Executable)
	if executable == "" {
		return 0, fmt.Errorf("resolve executable: executable path is empty")
	}

	var args []string
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	args = append(args, acquisitionPath, instrumentID, runID)

	proc := exec.Command(executable, args...) //nolint:gosec
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return 0, fmt.Errorf("launch monitor: %w", err)
	}
	pid := proc.Process.Pid
	return pid, proc.Process.Release()
}

// Start launches a monitor and records its PID. A run whose monitor is still
// alive is left alone.
func Start(ctx context.Context, st RunStore, opts LaunchOptions, instrumentID, runID string) (int, error) {
	run, err := st.GetRun(ctx, instrumentID, runID)
	if err != nil {
		return 0, err
	}
	if Alive(run.MonitorPID) {
		return run.MonitorPID, nil
	}
	pid, err := Launch(opts, run.AcquisitionPath, instrumentID, runID)
	if err != nil {
		return 0, err
	}
	if err := st.SetMonitorPID(ctx, instrumentID, runID, pid); err != nil {
		return pid, fmt.Errorf("record monitor pid: %w", err)
	}
	return pid, nil
}

// Alive reports whether pid names a live process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Stop sends SIGTERM to the run's monitor and escalates to SIGKILL if it is
// still alive after gracePeriod. The recorded PID is cleared either way.
func Stop(ctx context.Context, st RunStore, instrumentID, runID string, gracePeriod time.Duration) (StopResult, error) {
	run, err := st.GetRun(ctx, instrumentID, runID)
	if err != nil {
		return StopResult{}, err
	}
	pid := run.MonitorPID
	if !Alive(pid) {
		if pid != 0 {
			_ = st.SetMonitorPID(ctx, instrumentID, runID, 0)
		}
		return StopResult{}, ErrNotRunning
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}

	result := StopResult{PID: pid}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return result, fmt.Errorf("signal monitor %d: %w", pid, err)
	}
	if !waitForExit(ctx, pid, gracePeriod) {
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return result, fmt.Errorf("kill monitor %d: %w", pid, err)
		}
		result.ForcedKill = true
	}
	if err := st.SetMonitorPID(ctx, instrumentID, runID, 0); err != nil {
		return result, fmt.Errorf("clear monitor pid: %w", err)
	}
	return result, nil
}

// Restart terminates the run's monitor, if any, and launches a new one that
// re-enters the resume path.
func Restart(ctx context.Context, st RunStore, opts LaunchOptions, instrumentID, runID string, gracePeriod time.Duration) (RestartResult, error) {
	stopResult, stopErr := Stop(ctx, st, instrumentID, runID, gracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrNotRunning) {
		return RestartResult{}, stopErr
	}
	pid, err := Start(ctx, st, opts, instrumentID, runID)
	if err != nil {
		return RestartResult{}, err
	}
	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		PID:        pid,
	}, nil
}

func waitForExit(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return !Alive(pid)
		case <-time.After(100 * time.Millisecond):
		}
	}
	return !Alive(pid)
}
