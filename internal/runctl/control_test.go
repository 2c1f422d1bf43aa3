package runctl

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"autoqc/internal/store"
)

type fakeStore struct {
	mu  sync.Mutex
	run store.Run
}

func (f *fakeStore) GetRun(_ context.Context, instrumentID, runID string) (*store.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if instrumentID != f.run.InstrumentID || runID != f.run.RunID {
		return nil, store.ErrRunNotFound
	}
	run := f.run
	return &run, nil
}

func (f *fakeStore) SetMonitorPID(_ context.Context, _, _ string, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run.MonitorPID = pid
	return nil
}

func (f *fakeStore) pid() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.run.MonitorPID
}

// startReaped starts a child and reaps it in the background so it does not
// linger as a zombie after being signalled.
func startReaped(t *testing.T, name string, args ...string) *exec.Cmd {
	t.Helper()
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start %s: %v", name, err)
	}
	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		<-done
	})
	return cmd
}

func TestAlive(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Fatal("expected current process to be alive")
	}
	if Alive(0) || Alive(-1) {
		t.Fatal("expected non-positive pids to be dead")
	}
}

func TestStopTerminatesMonitor(t *testing.T) {
	cmd := startReaped(t, "sleep", "30")
	st := &fakeStore{run: store.Run{InstrumentID: "QE1", RunID: "R1", MonitorPID: cmd.Process.Pid}}

	result, err := Stop(context.Background(), st, "QE1", "R1", 2*time.Second)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if result.PID != cmd.Process.Pid || result.ForcedKill {
		t.Fatalf("unexpected stop result %+v", result)
	}
	if st.pid() != 0 {
		t.Fatalf("expected pid cleared, got %d", st.pid())
	}
}

func TestStopEscalatesWhenTermIgnored(t *testing.T) {
	cmd := startReaped(t, "/bin/sh", "-c", "trap '' TERM; while :; do sleep 0.05; done")
	time.Sleep(100 * time.Millisecond)
	st := &fakeStore{run: store.Run{InstrumentID: "QE1", RunID: "R1", MonitorPID: cmd.Process.Pid}}

	result, err := Stop(context.Background(), st, "QE1", "R1", 300*time.Millisecond)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !result.ForcedKill {
		t.Fatalf("expected forced kill, got %+v", result)
	}
}

func TestStopWithoutMonitor(t *testing.T) {
	st := &fakeStore{run: store.Run{InstrumentID: "QE1", RunID: "R1"}}
	if _, err := Stop(context.Background(), st, "QE1", "R1", time.Second); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if _, err := Stop(context.Background(), st, "QE1", "missing", time.Second); !errors.Is(err, store.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestStartLaunchesWithRunArguments(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "args.txt")
	script := filepath.Join(dir, MonitorBinary)
	body := "#!/bin/sh\necho \"$@\" > " + out + "\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	st := &fakeStore{run: store.Run{InstrumentID: "QE1", RunID: "R1", AcquisitionPath: "/data/QE1/R1"}}

	pid, err := Start(context.Background(), st, LaunchOptions{Executable: script, ConfigPath: "/etc/autoqc.toml"}, "QE1", "R1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if pid <= 0 || st.pid() != pid {
		t.Fatalf("expected pid recorded, got %d / %d", pid, st.pid())
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		data, readErr := os.ReadFile(out)
		if readErr == nil && strings.TrimSpace(string(data)) != "" {
			want := "--config /etc/autoqc.toml /data/QE1/R1 QE1 R1"
			if got := strings.TrimSpace(string(data)); got != want {
				t.Fatalf("args = %q, want %q", got, want)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("monitor script never ran")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStartKeepsLiveMonitor(t *testing.T) {
	st := &fakeStore{run: store.Run{InstrumentID: "QE1", RunID: "R1", MonitorPID: os.Getpid()}}
	pid, err := Start(context.Background(), st, LaunchOptions{}, "QE1", "R1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("expected existing pid, got %d", pid)
	}
}

func TestLaunchRequiresExecutable(t *testing.T) {
	if _, err := Launch(LaunchOptions{}, "/data", "QE1", "R1"); err == nil {
		t.Fatal("expected error for empty executable")
	}
}
