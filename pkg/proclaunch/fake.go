package proclaunch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/3leaps/warden/pkg/procprobe"
)

// FakeExit scripts the behavior of one fake worker.
type FakeExit struct {
	Code   int
	Stdout string
	Stderr string
	// Hang keeps the process "running" until TerminateGroup or Kill.
	Hang bool
}

// Fake is an in-memory launcher for supervisor tests. Launched pids are
// assigned sequentially; when Probe is set each launch registers its pid and
// start-time fingerprint there so aliveness checks line up.
type Fake struct {
	// Probe, when non-nil, receives every launched pid.
	Probe *procprobe.Fake

	mu          sync.Mutex
	nextPID     int
	nextStart   int64
	script      []FakeExit
	launches    []Spec
	terminated  []int
	killed      []int
	hangWaiters map[int]chan struct{}
}

func NewFake() *Fake {
	return &Fake{
		nextPID:     1000,
		nextStart:   50000,
		hangWaiters: make(map[int]chan struct{}),
	}
}

// QueueExit appends a scripted behavior; launches beyond the script exit 0
// with no output.
func (f *Fake) QueueExit(exit FakeExit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, exit)
}

// Launches returns every Spec passed to Launch.
func (f *Fake) Launches() []Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Spec(nil), f.launches...)
}

// Terminated returns pids passed to TerminateGroup.
func (f *Fake) Terminated() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.terminated...)
}

func (f *Fake) Launch(spec Spec) (Process, error) {
	f.mu.Lock()

	exit := FakeExit{}
	if len(f.script) > 0 {
		exit = f.script[0]
		f.script = f.script[1:]
	}

	f.nextPID++
	f.nextStart++
	pid := f.nextPID
	start := f.nextStart
	f.launches = append(f.launches, spec)

	var hang chan struct{}
	if exit.Hang {
		hang = make(chan struct{})
		f.hangWaiters[pid] = hang
	}
	f.mu.Unlock()

	if spec.Stdout != nil && exit.Stdout != "" {
		if _, err := spec.Stdout.WriteString(exit.Stdout); err != nil {
			return nil, fmt.Errorf("write fake stdout: %w", err)
		}
	}
	if spec.Stderr != nil && exit.Stderr != "" {
		if _, err := spec.Stderr.WriteString(exit.Stderr); err != nil {
			return nil, fmt.Errorf("write fake stderr: %w", err)
		}
	}

	if f.Probe != nil {
		f.Probe.SetProcess(pid, start)
	}

	return &fakeProcess{fake: f, pid: pid, exit: exit, hang: hang}, nil
}

func (f *Fake) Kill(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, pid)
	f.releaseLocked(pid)
	return nil
}

func (f *Fake) TerminateGroup(ctx context.Context, pid int, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, pid)
	f.releaseLocked(pid)
	return nil
}

func (f *Fake) releaseLocked(pid int) {
	if ch, ok := f.hangWaiters[pid]; ok {
		close(ch)
		delete(f.hangWaiters, pid)
	}
	if f.Probe != nil {
		f.Probe.RemoveProcess(pid)
	}
}

type fakeProcess struct {
	fake *Fake
	pid  int
	exit FakeExit
	hang chan struct{}
}

func (p *fakeProcess) PID() int {
	return p.pid
}

func (p *fakeProcess) Wait() (int, error) {
	if p.hang != nil {
		<-p.hang
		return -1, fmt.Errorf("signal: killed")
	}
	if p.fake.Probe != nil {
		p.fake.Probe.RemoveProcess(p.pid)
	}
	return p.exit.Code, nil
}
