// Package bitmap implements the free-block bitmap (C5): a fixed-size bit
// vector persistable to/from a file, with linear-scan Find-and-mark.
// Grounded on the original source's filesys/bitmap.cc, whose word-packed
// layout and FetchFrom/WriteBack contract this keeps verbatim.
package bitmap

import (
	"encoding/binary"
	"fmt"
)

const bitsPerWord = 32

// Bitmap is numBits bits packed into u32 words, little-endian on disk
// (spec.md §6).
type Bitmap struct {
	numBits int
	words   []uint32
}

// New allocates an all-clear bitmap of numBits bits.
func New(numBits int) *Bitmap {
	return &Bitmap{
		numBits: numBits,
		words:   make([]uint32, (numBits+bitsPerWord-1)/bitsPerWord),
	}
}

func (b *Bitmap) NumBits() int { return b.numBits }

func (b *Bitmap) wordIndex(i int) (word, bit int) { return i / bitsPerWord, i % bitsPerWord }

// Mark sets bit i.
func (b *Bitmap) Mark(i int) {
	w, bit := b.wordIndex(i)
	b.words[w] |= 1 << uint(bit)
}

// Clear clears bit i.
func (b *Bitmap) Clear(i int) {
	w, bit := b.wordIndex(i)
	b.words[w] &^= 1 << uint(bit)
}

// Test reports whether bit i is set.
func (b *Bitmap) Test(i int) bool {
	w, bit := b.wordIndex(i)
	return b.words[w]&(1<<uint(bit)) != 0
}

// Find linearly scans for the first clear bit, marks it, and returns its
// index. Returns an error if the bitmap is full.
func (b *Bitmap) Find() (int, error) {
	for i := 0; i < b.numBits; i++ {
		if !b.Test(i) {
			b.Mark(i)
			return i, nil
		}
	}
	return -1, fmt.Errorf("bitmap: no free bits among %d", b.numBits)
}

// NumClear counts clear bits, used by C6's Allocate to check disk space
// before committing any mutation.
func (b *Bitmap) NumClear() int {
	n := 0
	for i := 0; i < b.numBits; i++ {
		if !b.Test(i) {
			n++
		}
	}
	return n
}

// Bytes serializes the word array little-endian, for WriteBack.
func (b *Bitmap) Bytes() []byte {
	buf := make([]byte, len(b.words)*4)
	for i, w := range b.words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf
}

// LoadBytes deserializes a little-endian word array written by Bytes, for
// FetchFrom. buf must be at least large enough to hold NumBits() bits.
func (b *Bitmap) LoadBytes(buf []byte) error {
	need := len(b.words) * 4
	if len(buf) < need {
		return fmt.Errorf("bitmap: buffer too small: have %d bytes, need %d", len(buf), need)
	}
	for i := range b.words {
		b.words[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return nil
}
