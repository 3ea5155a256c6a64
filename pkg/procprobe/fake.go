package procprobe

import (
	"fmt"
	"sync"
)

// Fake is an in-memory probe for deterministic aliveness scenarios in tests.
type Fake struct {
	mu     sync.Mutex
	starts map[int]int64
}

func NewFake() *Fake {
	return &Fake{starts: make(map[int]int64)}
}

// SetProcess registers pid with the given start-time fingerprint.
func (f *Fake) SetProcess(pid int, startTime int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts[pid] = startTime
}

// RemoveProcess makes pid unknown, as if the process exited.
func (f *Fake) RemoveProcess(pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.starts, pid)
}

func (f *Fake) StartTime(pid int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start, ok := f.starts[pid]
	if !ok {
		return 0, fmt.Errorf("no such process: %d", pid)
	}
	return start, nil
}

func (f *Fake) Alive(pid int, startTime int64) bool {
	current, err := f.StartTime(pid)
	if err != nil {
		return false
	}
	return current == startTime
}
