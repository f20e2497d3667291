package physmem_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/nachgo/nachos/internal/diskio"
	"github.com/nachgo/nachos/internal/kthread"
	"github.com/nachgo/nachos/internal/machine"
	"github.com/nachgo/nachos/internal/stats"
	"github.com/nachgo/nachos/internal/vm/physmem"
	"github.com/nachgo/nachos/internal/vm/swap"
	"github.com/nachgo/nachos/internal/vm/ttable"
)

type fakeOwner struct{ table *ttable.Table }

func (o *fakeOwner) PageEntry(vp int) *ttable.Entry { return o.table.Entry(vp) }

func newManager(t *testing.T, numFrames uint64) *physmem.Manager {
	intr := machine.NewInterrupts()
	sched := kthread.NewScheduler(intr)
	main := sched.NewThread("main")
	sched.Bootstrap(main)

	mem := machine.NewMemory(numFrames, 32)
	d, err := diskio.NewDisk(afero.NewMemMapFs(), "/swap.img", 16, 32, sched, intr, stats.New(), "swap")
	require.NoError(t, err)
	sw := swap.New(d)
	return physmem.New(mem, sw, intr)
}

func TestFindFreePageExhausts(t *testing.T) {
	m := newManager(t, 2)
	_, ok := m.FindFreePage()
	require.True(t, ok)
	_, ok = m.FindFreePage()
	require.True(t, ok)
	_, ok = m.FindFreePage()
	require.False(t, ok)
}

func TestAddMappingThenRemoveFreesFrame(t *testing.T) {
	m := newManager(t, 1)
	table := ttable.New(4)
	owner := &fakeOwner{table: table}

	f, err := m.AddPhysicalToVirtualMapping(owner, 0)
	require.NoError(t, err)
	table.Entry(0).Valid = true
	table.Entry(0).PhysicalPage = f
	m.UnlockPage(f)

	m.RemovePhysicalToVirtualMapping(f)
	require.False(t, table.Entry(0).Valid)

	_, ok := m.FindFreePage()
	require.True(t, ok)
}

func TestEvictPageWritesModifiedPageToSwap(t *testing.T) {
	m := newManager(t, 1)
	table := ttable.New(4)
	owner := &fakeOwner{table: table}

	f, err := m.AddPhysicalToVirtualMapping(owner, 0)
	require.NoError(t, err)
	entry := table.Entry(0)
	entry.Valid = true
	entry.M = true
	entry.PhysicalPage = f
	m.UnlockPage(f)

	f2, err := m.AddPhysicalToVirtualMapping(&fakeOwner{table: ttable.New(4)}, 1)
	require.NoError(t, err)
	require.Equal(t, f, f2) // only frame, must have been evicted and reused
	require.True(t, entry.Swap)
	require.False(t, entry.Valid)
}
