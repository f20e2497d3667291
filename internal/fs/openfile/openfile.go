// Package openfile implements the seekable byte-oriented file handle
// (C7): ReadAt/WriteAt over a file header's sectors, plus a seek pointer
// for Read/Write. Grounded on the original source's filesys/openfile.cc.
package openfile

import (
	"github.com/nachgo/nachos/internal/diskio"
	"github.com/nachgo/nachos/internal/fs/fileheader"
)

// OpenFile is a live view over one file's header and backing disk.
type OpenFile struct {
	header  *fileheader.FileHeader
	disk    *diskio.Disk
	name    string
	seekPos uint32
	sector  uint32 // the header's own sector, needed to write it back
}

func New(header *fileheader.FileHeader, disk *diskio.Disk, sector uint32, name string) *OpenFile {
	return &OpenFile{header: header, disk: disk, sector: sector, name: name}
}

func (f *OpenFile) Name() string                    { return f.name }
func (f *OpenFile) Header() *fileheader.FileHeader   { return f.header }
func (f *OpenFile) HeaderSector() uint32             { return f.sector }
func (f *OpenFile) Length() uint32                   { return f.header.NumBytes }
func (f *OpenFile) Seek(pos uint32)                  { f.seekPos = pos }
func (f *OpenFile) Position() uint32                 { return f.seekPos }

// ReadAt reads up to min(n, length-pos) bytes starting at byte offset pos,
// copying out of whichever sectors that range spans, and returns the
// number of bytes actually read.
func (f *OpenFile) ReadAt(buf []byte, n int, pos uint32) (int, error) {
	length := f.header.NumBytes
	if pos >= length {
		return 0, nil
	}
	if uint32(n) > length-pos {
		n = int(length - pos)
	}
	sectorSize := f.disk.SectorSize()
	sector := make([]byte, sectorSize)

	remaining := n
	bufOff := 0
	for remaining > 0 {
		diskSector := f.header.ByteToSector(pos)
		if err := f.disk.ReadSector(diskSector, sector); err != nil {
			return bufOff, err
		}
		offInSector := pos % sectorSize
		chunk := sectorSize - offInSector
		if uint32(remaining) < chunk {
			chunk = uint32(remaining)
		}
		copy(buf[bufOff:bufOff+int(chunk)], sector[offInSector:offInSector+chunk])
		bufOff += int(chunk)
		pos += chunk
		remaining -= int(chunk)
	}
	return bufOff, nil
}

// WriteAt writes up to min(n, length-pos) bytes starting at byte offset
// pos; it never grows the file (spec.md §4.3: "does not grow the file").
func (f *OpenFile) WriteAt(buf []byte, n int, pos uint32) (int, error) {
	length := f.header.NumBytes
	if pos >= length {
		return 0, nil
	}
	if uint32(n) > length-pos {
		n = int(length - pos)
	}
	sectorSize := f.disk.SectorSize()
	sector := make([]byte, sectorSize)

	remaining := n
	bufOff := 0
	for remaining > 0 {
		diskSector := f.header.ByteToSector(pos)
		offInSector := pos % sectorSize
		chunk := sectorSize - offInSector
		if uint32(remaining) < chunk {
			chunk = uint32(remaining)
		}
		// Partial-sector writes need the existing sector contents for the
		// untouched bytes.
		if offInSector != 0 || chunk != sectorSize {
			if err := f.disk.ReadSector(diskSector, sector); err != nil {
				return bufOff, err
			}
		}
		copy(sector[offInSector:offInSector+chunk], buf[bufOff:bufOff+int(chunk)])
		if err := f.disk.WriteSector(diskSector, sector); err != nil {
			return bufOff, err
		}
		bufOff += int(chunk)
		pos += chunk
		remaining -= int(chunk)
	}
	return bufOff, nil
}

// Read reads at the seek pointer and advances it by the amount read.
func (f *OpenFile) Read(buf []byte) (int, error) {
	n, err := f.ReadAt(buf, len(buf), f.seekPos)
	f.seekPos += uint32(n)
	return n, err
}

// Write writes at the seek pointer and advances it by the amount written.
func (f *OpenFile) Write(buf []byte) (int, error) {
	n, err := f.WriteAt(buf, len(buf), f.seekPos)
	f.seekPos += uint32(n)
	return n, err
}
