package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"autoqc/internal/services"
)

// Process is a launched child whose liveness can be polled.
type Process interface {
	// Exited reports whether the process has terminated, and its exit error.
	Exited() (bool, error)
	Kill() error
}

// Launcher starts external programs.
type Launcher interface {
	Launch(ctx context.Context, binary string, args []string) (Process, error)
}

// ExecLauncher starts real operating-system processes.
type ExecLauncher struct{}

// Launch starts binary without waiting for it.
func (ExecLauncher) Launch(_ context.Context, binary string, args []string) (Process, error) {
	cmd := exec.Command(binary, args...) //nolint:gosec
	proc := &execProcess{cmd: cmd, done: make(chan struct{})}
	cmd.Stdout = &proc.output
	cmd.Stderr = &proc.output
	// Orphaned grandchildren may hold the output pipe open after a kill.
	cmd.WaitDelay = 2 * time.Second
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() {
		err := cmd.Wait()
		proc.mu.Lock()
		proc.err = err
		proc.mu.Unlock()
		close(proc.done)
	}()
	return proc, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	output lockedBuffer
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (p *execProcess) Exited() (bool, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.err != nil {
			if tail := p.output.Tail(512); tail != "" {
				return true, fmt.Errorf("%w: %s", p.err, tail)
			}
		}
		return true, p.err
	default:
		return false, nil
	}
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return err
	}
	<-p.done
	return nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Tail(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := strings.TrimSpace(b.buf.String())
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// supervise polls proc every interval until it exits or ceiling elapses.
func supervise(ctx context.Context, stage string, proc Process, interval, ceiling time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := time.Now()

	for {
		if exited, err := proc.Exited(); exited {
			if err != nil {
				return services.Wrap(services.ErrExternalTool, stage, "run", "process exited with error", err)
			}
			return nil
		}
		if ceiling > 0 && time.Since(start) >= ceiling {
			_ = proc.Kill()
			return services.Wrap(services.ErrTimeout, stage, "run", fmt.Sprintf("still running after %s; killed", ceiling), nil)
		}
		select {
		case <-ctx.Done():
			_ = proc.Kill()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
