package process_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nachgo/nachos/internal/kernerr"
	"github.com/nachgo/nachos/internal/kthread"
	"github.com/nachgo/nachos/internal/machine"
	"github.com/nachgo/nachos/internal/process"
)

func newHarness() (*machine.Interrupts, *kthread.Scheduler) {
	intr := machine.NewInterrupts()
	sched := kthread.NewScheduler(intr)
	sched.Bootstrap(sched.NewThread("main"))
	return intr, sched
}

func TestSpawnRunsBodyAndTracksThreadCount(t *testing.T) {
	_, sched := newHarness()
	p := process.New(nil, nil)
	require.Equal(t, 0, p.NumThreads())

	done := make(chan struct{})
	worker := p.Spawn(sched, "worker", 0, 0, func(*kthread.Thread) {
		close(done)
	})
	require.Equal(t, 1, p.NumThreads())

	worker.Join(sched)
	<-done
	require.Equal(t, 0, p.NumThreads())
}

func TestLastErrorSlotRoundTrips(t *testing.T) {
	p := process.New(nil, nil)
	require.Nil(t, p.LastError())

	p.SetLastError(kernerr.New(kernerr.InexistFile, "foo"))
	require.True(t, kernerr.Is(p.LastError(), kernerr.InexistFile))

	p.ClearLastError()
	require.Nil(t, p.LastError())
}
