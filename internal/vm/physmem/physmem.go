// Package physmem implements the physical memory manager (C13): the
// frame table, free list, FindFreePage, and clock-algorithm eviction.
// Grounded on the teacher's cmd/memoria/marcos.go (frame table + free
// list) and cmd/memoria/swap.go (the eviction-writes-to-swap path),
// restructured from the teacher's HTTP-request-handler entry points into
// plain Go methods called in-process by internal/vm/pagefault.
package physmem

import (
	"fmt"

	"github.com/nachgo/nachos/internal/machine"
	"github.com/nachgo/nachos/internal/vm/swap"
	"github.com/nachgo/nachos/internal/vm/ttable"
)

// Owner is the address space a frame belongs to, narrowed to exactly the
// one operation physmem needs — looking up a page's translation entry —
// so this package does not import internal/vm/addrspace (which itself
// depends on physmem).
type Owner interface {
	PageEntry(vp int) *ttable.Entry
}

type frame struct {
	free        bool
	locked      bool
	virtualPage int
	owner       Owner
}

// Manager owns the frame table and free list for one simulated machine.
type Manager struct {
	mem    *machine.Memory
	swap   *swap.Manager
	intr   *machine.Interrupts
	frames []frame
	free   []int
	cursor int
}

func New(mem *machine.Memory, sw *swap.Manager, intr *machine.Interrupts) *Manager {
	n := mem.NumFrames()
	frames := make([]frame, n)
	free := make([]int, n)
	for i := range frames {
		frames[i].free = true
		free[i] = i
	}
	return &Manager{mem: mem, swap: sw, intr: intr, frames: frames, free: free}
}

func (m *Manager) Memory() *machine.Memory { return m.mem }

// FindFreePage pops a free frame, or reports none available.
func (m *Manager) FindFreePage() (int, bool) {
	old := m.intr.Disable()
	defer m.intr.Restore(old)
	if len(m.free) == 0 {
		return -1, false
	}
	f := m.free[len(m.free)-1]
	m.free = m.free[:len(m.free)-1]
	m.frames[f].free = false
	return f, true
}

// AddPhysicalToVirtualMapping assigns a frame to (owner, vp), evicting if
// necessary, and marks it locked — callers must UnlockPage once any I/O
// populating the frame completes (spec.md §4.4).
func (m *Manager) AddPhysicalToVirtualMapping(owner Owner, vp int) (int, error) {
	f, ok := m.FindFreePage()
	if !ok {
		evicted, err := m.EvictPage()
		if err != nil {
			return -1, err
		}
		f = evicted
	}
	old := m.intr.Disable()
	m.frames[f].owner = owner
	m.frames[f].virtualPage = vp
	m.frames[f].locked = true
	m.intr.Restore(old)
	return f, nil
}

// EvictPage runs the clock algorithm: walk a cursor around the frame
// table, skipping locked frames, clearing and passing over referenced
// (U=1) pages, and selecting the first frame found with U=0. If the
// selected page is modified (M=1) its contents are written to swap
// before the frame is freed for reuse.
func (m *Manager) EvictPage() (int, error) {
	for {
		old := m.intr.Disable()
		f := m.cursor
		m.cursor = (m.cursor + 1) % len(m.frames)
		fr := &m.frames[f]
		if fr.free || fr.locked {
			m.intr.Restore(old)
			continue
		}
		entry := fr.owner.PageEntry(fr.virtualPage)
		if entry.U {
			entry.U = false
			m.intr.Restore(old)
			continue
		}

		if entry.M {
			buf := m.mem.FrameBytes(f)
			sector := swap.InvalidSector
			if entry.Swap {
				sector = int(entry.AddrDisk)
			}
			fr.locked = true
			m.intr.Restore(old)
			used, err := m.swap.PutPageSwap(sector, buf)
			if err != nil {
				old = m.intr.Disable()
				fr.locked = false
				m.intr.Restore(old)
				return -1, fmt.Errorf("physmem: evict: %w", err)
			}
			old = m.intr.Disable()
			entry.AddrDisk = int64(used)
			entry.Swap = true
		}
		entry.Valid = false
		entry.M = false
		fr.owner = nil
		fr.locked = false
		m.intr.Restore(old)
		return f, nil
	}
}

// RemovePhysicalToVirtualMapping invalidates f's owner's page and frees f.
func (m *Manager) RemovePhysicalToVirtualMapping(f int) {
	old := m.intr.Disable()
	fr := &m.frames[f]
	if fr.owner != nil {
		fr.owner.PageEntry(fr.virtualPage).Valid = false
	}
	fr.free = true
	fr.owner = nil
	fr.locked = false
	m.free = append(m.free, f)
	m.intr.Restore(old)
}

// ChangeOwner reassigns f to a different (owner, vp) without running
// eviction — used when a page is remapped without going through fault
// handling.
func (m *Manager) ChangeOwner(f int, owner Owner, vp int) {
	old := m.intr.Disable()
	m.frames[f].owner = owner
	m.frames[f].virtualPage = vp
	m.intr.Restore(old)
}

// UnlockPage clears f's locked bit once the caller has finished I/O into it.
func (m *Manager) UnlockPage(f int) {
	old := m.intr.Disable()
	m.frames[f].locked = false
	m.intr.Restore(old)
}
