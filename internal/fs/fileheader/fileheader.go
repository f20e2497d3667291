// Package fileheader implements the on-disk inode (C6): length, direct
// block pointers, Allocate/Deallocate against a free-block bitmap, and
// byte<->sector mapping. Grounded on the original source's
// filesys/filehdr.cc, keeping its fixed-one-sector, no-indirection layout
// exactly (spec.md §3).
package fileheader

import (
	"encoding/binary"
	"fmt"

	"github.com/nachgo/nachos/internal/diskio"
	"github.com/nachgo/nachos/internal/fs/bitmap"
	"github.com/nachgo/nachos/internal/kernerr"
)

// headerFixedFields is numBytes + numSectors + isDir + parentSector, each
// a u32 (spec.md §3).
const headerFixedFields = 4 * 4

// NumDirect computes the direct block count for a given sector size:
// (SectorSize - 4*sizeof(u32)) / sizeof(u32).
func NumDirect(sectorSize uint32) int {
	return int((sectorSize - headerFixedFields) / 4)
}

// MaxFileSize is NumDirect(sectorSize) * sectorSize, the only addressing
// scheme's ceiling (spec.md §3).
func MaxFileSize(sectorSize uint32) uint32 {
	return uint32(NumDirect(sectorSize)) * sectorSize
}

// FileHeader is the per-file metadata record, exactly one sector on disk.
type FileHeader struct {
	sectorSize uint32

	NumBytes     uint32
	NumSectors   uint32
	IsDir        bool
	ParentSector uint32
	DataSectors  []uint32
}

func New(sectorSize uint32) *FileHeader {
	return &FileHeader{
		sectorSize:  sectorSize,
		DataSectors: make([]uint32, NumDirect(sectorSize)),
	}
}

// Allocate claims enough bitmap bits to hold numBytes, failing with
// OutOfDisk if the bitmap lacks enough clear bits, or FileTooLarge if
// numBytes exceeds MaxFileSize. On success it records the claimed sectors
// in DataSectors and sets NumBytes/NumSectors.
func (h *FileHeader) Allocate(bm *bitmap.Bitmap, numBytes uint32) error {
	if numBytes > MaxFileSize(h.sectorSize) {
		return kernerr.New(kernerr.FileTooLarge, fmt.Sprintf("%d bytes exceeds max %d", numBytes, MaxFileSize(h.sectorSize)))
	}
	required := (int(numBytes) + int(h.sectorSize) - 1) / int(h.sectorSize)
	if bm.NumClear() < required {
		return kernerr.New(kernerr.OutOfDisk, fmt.Sprintf("need %d sectors, %d free", required, bm.NumClear()))
	}
	claimed := make([]uint32, required)
	for i := 0; i < required; i++ {
		s, err := bm.Find()
		if err != nil {
			// NumClear() already checked this can't happen; a mismatch here
			// is a bitmap invariant violation, not a recoverable user error.
			kernerr.Panic("fileheader", "bitmap.Find failed after NumClear check", "err", err)
		}
		claimed[i] = uint32(s)
	}
	h.NumBytes = numBytes
	h.NumSectors = uint32(required)
	h.DataSectors = claimed
	return nil
}

// Deallocate clears every sector this header claimed in bm.
func (h *FileHeader) Deallocate(bm *bitmap.Bitmap) {
	for i := uint32(0); i < h.NumSectors; i++ {
		bm.Clear(int(h.DataSectors[i]))
	}
}

// ByteToSector maps a byte offset within the file to its disk sector.
func (h *FileHeader) ByteToSector(offset uint32) uint32 {
	return h.DataSectors[offset/h.sectorSize]
}

// FetchFrom reads and decodes the header record from disk sector sector.
func (h *FileHeader) FetchFrom(disk *diskio.Disk, sector uint32) error {
	buf := make([]byte, h.sectorSize)
	if err := disk.ReadSector(sector, buf); err != nil {
		return err
	}
	h.NumBytes = binary.LittleEndian.Uint32(buf[0:4])
	h.NumSectors = binary.LittleEndian.Uint32(buf[4:8])
	h.IsDir = binary.LittleEndian.Uint32(buf[8:12]) != 0
	h.ParentSector = binary.LittleEndian.Uint32(buf[12:16])
	for i := range h.DataSectors {
		off := headerFixedFields + i*4
		h.DataSectors[i] = binary.LittleEndian.Uint32(buf[off : off+4])
	}
	return nil
}

// WriteBack encodes and writes the header record to disk sector sector.
func (h *FileHeader) WriteBack(disk *diskio.Disk, sector uint32) error {
	buf := make([]byte, h.sectorSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.NumBytes)
	binary.LittleEndian.PutUint32(buf[4:8], h.NumSectors)
	if h.IsDir {
		binary.LittleEndian.PutUint32(buf[8:12], 1)
	}
	binary.LittleEndian.PutUint32(buf[12:16], h.ParentSector)
	for i, s := range h.DataSectors {
		off := headerFixedFields + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], s)
	}
	return disk.WriteSector(sector, buf)
}
