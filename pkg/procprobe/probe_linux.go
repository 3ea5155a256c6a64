//go:build linux

package procprobe

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// StartTime reads the start-time fingerprint from /proc/<pid>/stat.
//
// The value is field 22 (starttime, in clock ticks since boot). The comm
// field may contain spaces and parentheses, so parsing resumes after the
// last ')' rather than splitting the whole line.
func (p osProbe) StartTime(pid int) (int64, error) {
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d", pid)
	}

	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, fmt.Errorf("read process stat: %w", err)
	}

	return parseStartTime(string(data))
}

func parseStartTime(stat string) (int64, error) {
	end := strings.LastIndexByte(stat, ')')
	if end < 0 {
		return 0, fmt.Errorf("malformed stat line")
	}

	// Fields after the comm: field 3 is state, so starttime (field 22) is
	// the 20th space-separated token past the closing paren.
	fields := strings.Fields(stat[end+1:])
	if len(fields) < 20 {
		return 0, fmt.Errorf("stat line has %d fields after comm, need 20", len(fields))
	}

	start, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse starttime: %w", err)
	}
	return start, nil
}
