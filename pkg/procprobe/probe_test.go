package procprobe

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFake_AliveRequiresMatchingFingerprint(t *testing.T) {
	fake := NewFake()
	fake.SetProcess(1234, 5000)

	assert.True(t, fake.Alive(1234, 5000))

	// Same pid, different start time: the pid was reused by another process.
	assert.False(t, fake.Alive(1234, 5001))

	// Unknown pid is not alive.
	assert.False(t, fake.Alive(999, 5000))

	fake.RemoveProcess(1234)
	assert.False(t, fake.Alive(1234, 5000))
}

func TestOS_AliveFailsClosedOnBadPID(t *testing.T) {
	probe := OS()
	assert.False(t, probe.Alive(0, 1))
	assert.False(t, probe.Alive(-5, 1))
}

func TestOS_SelfFingerprintIsStable(t *testing.T) {
	probe := OS()

	self := os.Getpid()
	start, err := probe.StartTime(self)
	if err != nil {
		t.Skipf("start-time introspection unavailable: %v", err)
	}

	assert.True(t, probe.Alive(self, start))
	assert.False(t, probe.Alive(self, start+1))
}
