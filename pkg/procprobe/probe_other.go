//go:build !linux

package procprobe

// StartTime always fails on platforms without /proc start-time data, which
// keeps the aliveness decision fail-closed everywhere else.
func (p osProbe) StartTime(pid int) (int64, error) {
	return 0, ErrUnsupported
}
