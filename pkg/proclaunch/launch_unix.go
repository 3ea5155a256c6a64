//go:build unix

package proclaunch

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

const killPollInterval = 250 * time.Millisecond

type unixProcess struct {
	cmd *exec.Cmd
}

func (p *unixProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *unixProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code, nil
		}
		// Signal death has no exit status.
		return -1, err
	}
	return -1, err
}

func (l osLauncher) Launch(spec Spec) (Process, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("worker command is required")
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr

	// New session makes the worker its own session and group leader, so a
	// kill(0) or kill(-pgid) from the worker stays inside its own tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	return &unixProcess{cmd: cmd}, nil
}

func (l osLauncher) Kill(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// TerminateGroup sends SIGTERM to the group, waits up to grace for it to
// drain, then SIGKILLs whatever is left.
func (l osLauncher) TerminateGroup(ctx context.Context, pid int, grace time.Duration) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("signal term: %w", err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !groupAlive(pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(killPollInterval):
		}
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal kill: %w", err)
	}
	return nil
}

// groupAlive checks group existence with signal 0.
func groupAlive(pid int) bool {
	err := syscall.Kill(-pid, syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
