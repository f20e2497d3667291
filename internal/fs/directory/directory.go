// Package directory implements the fixed-capacity directory table (C8):
// a file whose entire contents are NumDirEntries fixed-size
// {inUse, name, sector} records. Grounded on the original source's
// filesys/directory.cc.
package directory

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/nachgo/nachos/internal/fs/openfile"
	"github.com/nachgo/nachos/internal/kernerr"
)

// Entry is one directory slot.
type Entry struct {
	InUse  bool
	Name   string
	Sector uint32
}

const entryFixedFields = 4 + 4 // inUse u32 + sector u32

// EntrySize is one record's on-disk size for a given max filename length.
func EntrySize(maxNameLen uint32) uint32 { return entryFixedFields + maxNameLen }

// Directory is the in-memory decoded table.
type Directory struct {
	maxNameLen uint32
	entries    []Entry
}

func New(numEntries int, maxNameLen uint32) *Directory {
	return &Directory{maxNameLen: maxNameLen, entries: make([]Entry, numEntries)}
}

// Find returns the header sector for name, or ok=false.
func (d *Directory) Find(name string) (sector uint32, ok bool) {
	for _, e := range d.entries {
		if e.InUse && e.Name == name {
			return e.Sector, true
		}
	}
	return 0, false
}

// Add inserts a new entry into the first free slot. Fails with
// AlreadyInDirectory if name exists, or NoSpaceInDirectory if full.
func (d *Directory) Add(name string, sector uint32) error {
	if _, ok := d.Find(name); ok {
		return kernerr.New(kernerr.AlreadyInDirectory, name)
	}
	for i := range d.entries {
		if !d.entries[i].InUse {
			d.entries[i] = Entry{InUse: true, Name: name, Sector: sector}
			return nil
		}
	}
	return kernerr.New(kernerr.NoSpaceInDirectory, name)
}

// Remove marks name's entry not-in-use. It does not reclaim data blocks;
// the file-system layer does that after checking the open-file-table
// refcount (spec.md §4.3).
func (d *Directory) Remove(name string) error {
	for i := range d.entries {
		if d.entries[i].InUse && d.entries[i].Name == name {
			d.entries[i] = Entry{}
			return nil
		}
	}
	return kernerr.New(kernerr.InexistFile, name)
}

// Entries returns every in-use entry, for callers (filesys.List/Print)
// that need to enumerate or recurse.
func (d *Directory) Entries() []Entry {
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		if e.InUse {
			out = append(out, e)
		}
	}
	return out
}

// ResolveDir opens, given a directory's header sector, that directory's
// decoded contents — supplied by the filesys layer so this package stays
// free of a direct disk/open-file-table dependency.
type ResolveDir func(sector uint32) (dir *Directory, isDir bool, err error)

// List recursively descends subdirectories rooted at this directory,
// printing a "+--"-tree indented by 4*depth spaces (spec.md §4.3),
// to w.
func (d *Directory) List(w io.Writer, depth int, resolve ResolveDir) error {
	indent := strings.Repeat(" ", 4*depth)
	for _, e := range d.Entries() {
		sub, isDir, err := resolve(e.Sector)
		if err != nil {
			return err
		}
		tag := ""
		if isDir {
			tag = " (D)"
		}
		fmt.Fprintf(w, "%s+--%s%s\n", indent, e.Name, tag)
		if isDir && sub != nil {
			if err := sub.List(w, depth+1, resolve); err != nil {
				return err
			}
		}
	}
	return nil
}

// FetchFrom decodes the directory table from of's full contents.
func (d *Directory) FetchFrom(of *openfile.OpenFile) error {
	recSize := int(EntrySize(d.maxNameLen))
	buf := make([]byte, recSize*len(d.entries))
	n, err := of.ReadAt(buf, len(buf), 0)
	if err != nil {
		return err
	}
	for i := range d.entries {
		off := i * recSize
		if off+recSize > n {
			d.entries[i] = Entry{}
			continue
		}
		rec := buf[off : off+recSize]
		inUse := binary.LittleEndian.Uint32(rec[0:4]) != 0
		sector := binary.LittleEndian.Uint32(rec[4:8])
		name := string(rec[8 : 8+d.maxNameLen])
		if idx := strings.IndexByte(name, 0); idx >= 0 {
			name = name[:idx]
		}
		d.entries[i] = Entry{InUse: inUse, Name: name, Sector: sector}
	}
	return nil
}

// WriteBack encodes the directory table into of's full contents.
func (d *Directory) WriteBack(of *openfile.OpenFile) error {
	recSize := int(EntrySize(d.maxNameLen))
	buf := make([]byte, recSize*len(d.entries))
	for i, e := range d.entries {
		off := i * recSize
		rec := buf[off : off+recSize]
		if e.InUse {
			binary.LittleEndian.PutUint32(rec[0:4], 1)
		}
		binary.LittleEndian.PutUint32(rec[4:8], e.Sector)
		copy(rec[8:8+d.maxNameLen], e.Name)
	}
	_, err := of.WriteAt(buf, len(buf), 0)
	return err
}
