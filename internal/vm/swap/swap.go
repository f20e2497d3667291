// Package swap implements the swap manager (C12): a bitmap-allocated
// sector space on a dedicated disk, with Get/Put/Release operations for
// one page's worth of data at a time. Grounded on the teacher's
// cmd/memoria/swap.go, whose GuardarPagina/RecuperarPagina/LiberarPagina
// trio this keeps the shape of while routing storage through
// internal/diskio instead of an HTTP call to a separate memoria process.
package swap

import (
	"github.com/nachgo/nachos/internal/diskio"
	"github.com/nachgo/nachos/internal/fs/bitmap"
)

// InvalidSector is the "no sector yet" sentinel PutPageSwap accepts to
// mean "allocate a fresh one."
const InvalidSector = -1

type Manager struct {
	disk *diskio.Disk
	bm   *bitmap.Bitmap
}

func New(disk *diskio.Disk) *Manager {
	return &Manager{disk: disk, bm: bitmap.New(int(disk.NumSectors()))}
}

// GetFreePage claims and returns a swap sector.
func (m *Manager) GetFreePage() (int, error) {
	return m.bm.Find()
}

// ReleasePageSwap frees sector s.
func (m *Manager) ReleasePageSwap(s int) {
	m.bm.Clear(s)
}

// GetPageSwap reads sector s into buf.
func (m *Manager) GetPageSwap(s int, buf []byte) error {
	return m.disk.ReadSector(uint32(s), buf)
}

// PutPageSwap writes buf to sector s, or to a freshly allocated sector if
// s is InvalidSector, returning the sector actually used.
func (m *Manager) PutPageSwap(s int, buf []byte) (int, error) {
	if s < 0 {
		fresh, err := m.bm.Find()
		if err != nil {
			return InvalidSector, err
		}
		s = fresh
	}
	if err := m.disk.WriteSector(uint32(s), buf); err != nil {
		return InvalidSector, err
	}
	return s, nil
}
