package machine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nachgo/nachos/internal/machine"
)

func TestInterruptsDisableRestoreRoundTrips(t *testing.T) {
	ic := machine.NewInterrupts()
	require.Equal(t, machine.IntOn, ic.Level())

	old := ic.Disable()
	require.Equal(t, machine.IntOn, old)
	require.Equal(t, machine.IntOff, ic.Level())

	ic.Restore(old)
	require.Equal(t, machine.IntOn, ic.Level())
}

func TestTimerScheduleEveryFiresAndStops(t *testing.T) {
	timer := machine.NewTimer(1)
	fired := make(chan struct{}, 8)
	timer.ScheduleEvery(5*time.Millisecond, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	defer timer.Stop()

	select {
	case <-fired:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timer never fired")
	}
}

func TestMemoryFrameBytesAndZeroFrame(t *testing.T) {
	mem := machine.NewMemory(4, 16)
	require.Equal(t, 4, mem.NumFrames())

	buf := mem.FrameBytes(1)
	for i := range buf {
		buf[i] = 0xAB
	}
	mem.ZeroFrame(1)
	for _, b := range mem.FrameBytes(1) {
		require.Equal(t, byte(0), b)
	}
}
