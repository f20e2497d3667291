// Package elfload implements the ELF32/ELF64 header parsing spec.md §1
// lists as an out-of-scope collaborator, exposing exactly its described
// interface: entry point and an iterator over loadable (SHF_ALLOC, via
// PT_LOAD program headers) sections with virtual address, size, file
// offset, writability, and zero-fill flag.
//
// Grounded on the teacher's cmd/cpu/instrucciones.go ELF-loading logic,
// generalized from its 32-bit-only little-endian assumption into the
// 32/64-bit, either-endianness check spec.md §4.4 requires ("parse the
// ELF header (determine 32/64 and endianness, reject mismatches)").
package elfload

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	elfMagic0 = 0x7f
	elfMagic1 = 'E'
	elfMagic2 = 'L'
	elfMagic3 = 'F'

	class32 = 1
	class64 = 2

	dataLittle = 1
	dataBig    = 2

	eiVersionCurrent = 1

	ptLoad = 1

	pfX = 1
	pfW = 2
	pfR = 4

	etExec  = 2   // ET_EXEC
	emRiscv = 243 // EM_RISC
)

// ErrWrongEndianness is returned by Parse when the file's declared
// endianness does not match the host's, distinct from a generic
// malformed-header error (original source's WRONG_FILE_ENDIANESS,
// kernerr.WrongFileEndianess).
var ErrWrongEndianness = errors.New("elfload: file endianness does not match host")

// hostIsBigEndian reports the running machine's native byte order.
func hostIsBigEndian() bool {
	var buf [2]byte
	binary.NativeEndian.PutUint16(buf[:], 1)
	return buf[0] == 0
}

// Segment is one PT_LOAD program header, generalized across 32/64-bit.
type Segment struct {
	VAddr      uint64
	MemSize    uint64
	FileOffset uint64
	FileSize   uint64 // bytes backed by the file; MemSize-FileSize is zero-fill
	Writable   bool
}

// File is a parsed ELF executable.
type File struct {
	Is64     bool
	BigEndian bool
	Entry    uint64
	Segments []Segment
}

// Parse decodes an ELF header and its program header table from raw.
func Parse(raw []byte) (*File, error) {
	if len(raw) < 20 || raw[0] != elfMagic0 || raw[1] != elfMagic1 || raw[2] != elfMagic2 || raw[3] != elfMagic3 {
		return nil, fmt.Errorf("elfload: not an ELF file")
	}
	class := raw[4]
	if class != class32 && class != class64 {
		return nil, fmt.Errorf("elfload: unrecognized EI_CLASS %d", class)
	}
	dataEnc := raw[5]
	if dataEnc != dataLittle && dataEnc != dataBig {
		return nil, fmt.Errorf("elfload: unrecognized EI_DATA %d", dataEnc)
	}
	if raw[6] != eiVersionCurrent {
		return nil, fmt.Errorf("elfload: unrecognized EI_VERSION %d", raw[6])
	}

	f := &File{Is64: class == class64, BigEndian: dataEnc == dataBig}
	if f.BigEndian != hostIsBigEndian() {
		return nil, fmt.Errorf("elfload: %w", ErrWrongEndianness)
	}
	var bo binary.ByteOrder = binary.LittleEndian
	if f.BigEndian {
		bo = binary.BigEndian
	}

	machine := bo.Uint16(raw[18:20])
	typ := bo.Uint16(raw[16:18])
	if machine != emRiscv || typ != etExec {
		return nil, fmt.Errorf("elfload: not a RISC-V executable (e_machine=%d e_type=%d)", machine, typ)
	}

	var phoff, entry uint64
	var phentsize, phnum uint16

	if f.Is64 {
		if len(raw) < 64 {
			return nil, fmt.Errorf("elfload: truncated 64-bit header")
		}
		entry = bo.Uint64(raw[24:32])
		phoff = bo.Uint64(raw[32:40])
		phentsize = bo.Uint16(raw[54:56])
		phnum = bo.Uint16(raw[56:58])
	} else {
		if len(raw) < 52 {
			return nil, fmt.Errorf("elfload: truncated 32-bit header")
		}
		entry = uint64(bo.Uint32(raw[24:28]))
		phoff = uint64(bo.Uint32(raw[28:32]))
		phentsize = bo.Uint16(raw[42:44])
		phnum = bo.Uint16(raw[44:46])
	}
	f.Entry = entry

	for i := 0; i < int(phnum); i++ {
		base := int(phoff) + i*int(phentsize)
		if base+int(phentsize) > len(raw) {
			return nil, fmt.Errorf("elfload: program header %d out of range", i)
		}
		ph := raw[base:]

		var typ, flags uint32
		var offset, vaddr, filesz, memsz uint64
		if f.Is64 {
			typ = bo.Uint32(ph[0:4])
			flags = bo.Uint32(ph[4:8])
			offset = bo.Uint64(ph[8:16])
			vaddr = bo.Uint64(ph[16:24])
			filesz = bo.Uint64(ph[32:40])
			memsz = bo.Uint64(ph[40:48])
		} else {
			typ = bo.Uint32(ph[0:4])
			offset = uint64(bo.Uint32(ph[4:8]))
			vaddr = uint64(bo.Uint32(ph[8:12]))
			filesz = uint64(bo.Uint32(ph[16:20]))
			memsz = uint64(bo.Uint32(ph[20:24]))
			flags = bo.Uint32(ph[24:28])
		}
		if typ != ptLoad {
			continue
		}
		f.Segments = append(f.Segments, Segment{
			VAddr:      vaddr,
			MemSize:    memsz,
			FileOffset: offset,
			FileSize:   filesz,
			Writable:   flags&pfW != 0,
		})
	}
	return f, nil
}

// TopVirtualAddress returns the highest address (aligned up by the
// caller to pageSize) any loadable segment reaches.
func (f *File) TopVirtualAddress() uint64 {
	var top uint64
	for _, s := range f.Segments {
		if end := s.VAddr + s.MemSize; end > top {
			top = end
		}
	}
	return top
}
