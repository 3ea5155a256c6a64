// Package procprobe verifies that a recorded pid still refers to the process
// it was captured from.
//
// A pid alone is not a stable identity: the OS recycles pids, so a liveness
// check that only asks "does pid N exist" can mistake an unrelated process
// for a supervised worker. The probe pairs the pid with the kernel's
// start-time fingerprint captured at spawn; the two must match together.
//
// The policy is fail-closed: whenever the fingerprint cannot be read or
// compared (pid gone, permission denied, platform unsupported), the process
// is reported as not alive.
package procprobe

import "errors"

// ErrUnsupported is returned by StartTime on platforms without process
// start-time introspection.
var ErrUnsupported = errors.New("process start-time introspection is not supported on this platform")

// Probe inspects the OS process table.
type Probe interface {
	// StartTime returns the kernel start-time fingerprint for pid.
	// The value is opaque; it is only ever compared for equality against a
	// fingerprint captured earlier from the same probe.
	StartTime(pid int) (int64, error)

	// Alive reports whether a process with the given pid exists and its
	// current fingerprint equals startTime. Any uncertainty means false.
	Alive(pid int, startTime int64) bool
}

// OS returns the platform-backed probe.
func OS() Probe {
	return osProbe{}
}

type osProbe struct{}

func (p osProbe) Alive(pid int, startTime int64) bool {
	if pid <= 0 {
		return false
	}
	current, err := p.StartTime(pid)
	if err != nil {
		return false
	}
	return current == startTime
}
