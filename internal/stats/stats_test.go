package stats_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nachgo/nachos/internal/stats"
)

func TestTickUserAndSystemAccumulateIntoTotal(t *testing.T) {
	st := stats.New()
	st.TickUser(3)
	st.TickSystem(2)
	require.EqualValues(t, 5, st.TotalTicks.Load())
	require.EqualValues(t, 3, st.UserTicks.Load())
	require.EqualValues(t, 2, st.SystemTicks.Load())
}

func TestRenderIncludesEveryCounter(t *testing.T) {
	st := stats.New()
	st.DiskReads.Add(1)
	st.PageFaults.Add(2)
	out := st.Render()
	require.Contains(t, out, "Disk I/Os: 1 reads")
	require.Contains(t, out, "Page faults: 2")
	require.Contains(t, out, "Ticks: total 0, user 0, system 0")
	require.Contains(t, out, "Disk I/Os: 1 reads, 0 writes")
	require.Contains(t, out, "Console I/Os: 0 reads, 0 writes")
	require.Contains(t, out, "Syscalls handled: 0")
}
