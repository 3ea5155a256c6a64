// Package proclaunch isolates the OS-specific mechanics of running agent
// workers: spawning them detached as their own session/group leader, and
// tearing down whole process trees with graceful-then-forced escalation.
package proclaunch

import (
	"context"
	"errors"
	"os"
	"time"
)

// ErrUnsupported is returned on platforms without session/process-group
// semantics.
var ErrUnsupported = errors.New("process-group launching is not supported on this platform")

// Spec describes one worker invocation. Stdout and Stderr are owned by the
// caller; the launcher only attaches them.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Stdout  *os.File
	Stderr  *os.File
}

// Process is a launched worker.
type Process interface {
	PID() int

	// Wait blocks until the process exits and returns its exit code.
	// A negative code with a non-nil error means the process ended without
	// a usable exit status (killed, wait error).
	Wait() (int, error)
}

// Launcher spawns and signals supervised workers.
type Launcher interface {
	// Launch starts the worker as the leader of a new session and process
	// group, detached from the supervisor's session. A signal the worker
	// sends to its own group cannot reach the supervisor.
	Launch(spec Spec) (Process, error)

	// Kill force-kills the process group rooted at pid. Best-effort.
	Kill(pid int) error

	// TerminateGroup asks the process group rooted at pid to exit, waits up
	// to grace for it to disappear, then force-kills it.
	TerminateGroup(ctx context.Context, pid int, grace time.Duration) error
}

// OS returns the platform-backed launcher.
func OS() Launcher {
	return osLauncher{}
}

type osLauncher struct{}
