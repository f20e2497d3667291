// Package pagefault implements the page-fault manager (C14): resolves a
// fault by locating the page in swap or in its backing file, fetching it
// into a frame, and unlocking the frame. Concurrent faulters on the same
// page block on the page's IO bit via one lock+condition pair shared by
// the whole address space (spec.md §4.4's documented "one shared
// semaphore per address-space, or per-page" choice — this picks the
// per-address-space variant).
package pagefault

import (
	"fmt"

	"github.com/nachgo/nachos/internal/kthread"
	"github.com/nachgo/nachos/internal/stats"
	"github.com/nachgo/nachos/internal/vm/physmem"
	"github.com/nachgo/nachos/internal/vm/swap"
	"github.com/nachgo/nachos/internal/vm/ttable"
)

// Space is the subset of internal/vm/addrspace.AddressSpace the fault
// manager needs, kept as an interface to avoid a physmem<->addrspace
// import cycle (addrspace implements physmem.Owner too).
type Space interface {
	physmem.Owner
	IOLock() *kthread.Lock
	IOCond() *kthread.Condition
}

// Backing is a file byte range a page's contents can be demand-loaded
// from (an ELF executable or mmap'd file), satisfied by
// *internal/fs/openfile.OpenFile.
type Backing interface {
	ReadAt(buf []byte, n int, pos uint32) (int, error)
}

type Manager struct {
	phys  *physmem.Manager
	sw    *swap.Manager
	stats *stats.Stats
}

// New builds a fault manager. st may be nil, in which case faults handled
// are simply not counted (every production call site wires a real
// *stats.Stats; tests that don't care about the counter can pass nil).
func New(phys *physmem.Manager, sw *swap.Manager, st *stats.Stats) *Manager {
	return &Manager{phys: phys, sw: sw, stats: st}
}

// Handle resolves a fault on vp within space, reading from backing when
// the page's content comes from a file rather than swap or zero-fill.
func (m *Manager) Handle(space Space, vp int, backing Backing) error {
	if m.stats != nil {
		m.stats.PageFaults.Add(1)
	}

	entry := space.PageEntry(vp)
	lock, cond := space.IOLock(), space.IOCond()

	lock.Acquire()
	for entry.IO {
		lock.Release()
		cond.Wait()
		lock.Acquire()
	}
	if entry.Valid {
		lock.Release()
		return nil // resolved by a concurrent faulter while we waited
	}
	entry.IO = true
	lock.Release()

	frame, err := m.phys.AddPhysicalToVirtualMapping(space, vp)
	if err != nil {
		return fmt.Errorf("pagefault: %w", err)
	}
	buf := m.phys.Memory().FrameBytes(frame)

	switch {
	case entry.Swap:
		if err := m.sw.GetPageSwap(int(entry.AddrDisk), buf); err != nil {
			return err
		}
		m.sw.ReleasePageSwap(int(entry.AddrDisk))
		entry.Swap = false
	case entry.AddrDisk != ttable.NoDisk:
		if backing == nil {
			return fmt.Errorf("pagefault: vp %d has a file backing address but no backing store", vp)
		}
		if _, err := backing.ReadAt(buf, len(buf), uint32(entry.AddrDisk)); err != nil {
			return err
		}
	default:
		m.phys.Memory().ZeroFrame(frame)
	}

	entry.PhysicalPage = frame
	m.phys.UnlockPage(frame)

	lock.Acquire()
	entry.IO = false
	entry.Valid = true
	cond.Broadcast()
	lock.Release()
	return nil
}
