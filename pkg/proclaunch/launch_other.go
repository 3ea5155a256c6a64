//go:build !unix

package proclaunch

import (
	"context"
	"time"
)

func (l osLauncher) Launch(spec Spec) (Process, error) {
	return nil, ErrUnsupported
}

func (l osLauncher) Kill(pid int) error {
	return ErrUnsupported
}

func (l osLauncher) TerminateGroup(ctx context.Context, pid int, grace time.Duration) error {
	return ErrUnsupported
}
