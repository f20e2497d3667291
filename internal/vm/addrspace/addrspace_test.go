package addrspace_test

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/nachgo/nachos/internal/diskio"
	"github.com/nachgo/nachos/internal/elfload"
	"github.com/nachgo/nachos/internal/kthread"
	"github.com/nachgo/nachos/internal/machine"
	"github.com/nachgo/nachos/internal/stats"
	"github.com/nachgo/nachos/internal/vm/addrspace"
	"github.com/nachgo/nachos/internal/vm/pagefault"
	"github.com/nachgo/nachos/internal/vm/physmem"
	"github.com/nachgo/nachos/internal/vm/swap"
)

type fakeBacking struct{ data []byte }

func (b *fakeBacking) ReadAt(buf []byte, n int, pos uint32) (int, error) {
	end := int(pos) + n
	if end > len(b.data) {
		end = len(b.data)
	}
	copied := copy(buf, b.data[pos:end])
	return copied, nil
}

func newEnv(t *testing.T, numFrames uint64) (*machine.Interrupts, *kthread.Scheduler, *physmem.Manager) {
	intr := machine.NewInterrupts()
	sched := kthread.NewScheduler(intr)
	main := sched.NewThread("main")
	sched.Bootstrap(main)

	mem := machine.NewMemory(numFrames, 32)
	d, err := diskio.NewDisk(afero.NewMemMapFs(), "/swap.img", 16, 32, sched, intr, stats.New(), "swap")
	require.NoError(t, err)
	return intr, sched, physmem.New(mem, swap.New(d), intr)
}

func TestAllocFailsPastMaxVirtPages(t *testing.T) {
	intr, sched, _ := newEnv(t, 4)
	as := addrspace.New(4, 32, intr, sched)
	_, err := as.Alloc(3)
	require.NoError(t, err)
	_, err = as.Alloc(2)
	require.Error(t, err)
}

func TestStackAllocateEagerlyZeroed(t *testing.T) {
	intr, sched, phys := newEnv(t, 16)
	as := addrspace.New(32, 32, intr, sched)

	top, err := as.StackAllocate(64, phys)
	require.NoError(t, err)
	require.Greater(t, top, uint64(0))
	// 4 guard pages, then 64/32 = 2 stack pages; top sits below the arg slots.
	require.EqualValues(t, (addrspace.GuardPages+2)*32-addrspace.ArgSlotWords*4, top)
	for vp := addrspace.GuardPages; vp < addrspace.GuardPages+2; vp++ {
		e := as.PageEntry(vp)
		require.True(t, e.Valid)
		require.Equal(t, make([]byte, 32), phys.Memory().FrameBytes(e.PhysicalPage))
	}
}

func TestDemandPagedELFFaultsInFromBacking(t *testing.T) {
	intr, sched, phys := newEnv(t, 16)
	as := addrspace.New(32, 32, intr, sched)

	elf := &elfload.File{Segments: []elfload.Segment{
		{VAddr: 0, MemSize: 32, FileOffset: 0, FileSize: 32, Writable: false},
	}}
	backing := &fakeBacking{data: bytes.Repeat([]byte{0x42}, 32)}

	require.NoError(t, as.LoadELF(elf, backing, phys, false))
	entry := as.PageEntry(0)
	require.False(t, entry.Valid)
	require.EqualValues(t, 0, entry.AddrDisk)

	pf := pagefault.New(phys, swap.New(mustDisk(t, sched, intr)), nil)
	require.NoError(t, pf.Handle(as, 0, backing))
	require.True(t, as.PageEntry(0).Valid)

	buf := phys.Memory().FrameBytes(as.PageEntry(0).PhysicalPage)
	require.Equal(t, byte(0x42), buf[0])
}

func TestPageFaultHandleIncrementsStatsCounter(t *testing.T) {
	intr, sched, phys := newEnv(t, 16)
	as := addrspace.New(32, 32, intr, sched)

	elf := &elfload.File{Segments: []elfload.Segment{
		{VAddr: 0, MemSize: 32, FileOffset: 0, FileSize: 32, Writable: false},
	}}
	backing := &fakeBacking{data: bytes.Repeat([]byte{0x7}, 32)}
	require.NoError(t, as.LoadELF(elf, backing, phys, false))

	st := stats.New()
	pf := pagefault.New(phys, swap.New(mustDisk(t, sched, intr)), st)
	require.NoError(t, pf.Handle(as, 0, backing))
	require.EqualValues(t, 1, st.PageFaults.Load())
}

func mustDisk(t *testing.T, sched *kthread.Scheduler, intr *machine.Interrupts) *diskio.Disk {
	d, err := diskio.NewDisk(afero.NewMemMapFs(), "/swap2.img", 16, 32, sched, intr, stats.New(), "swap2")
	require.NoError(t, err)
	return d
}
