package diskio

import (
	"bufio"
	"io"

	"github.com/nachgo/nachos/internal/kthread"
	"github.com/nachgo/nachos/internal/machine"
	"github.com/nachgo/nachos/internal/stats"
)

// Console is the asynchronous character device spec.md §1 names as an
// out-of-scope collaborator: one byte in, one byte out. Writes are
// serialised through a semaphore; reads go straight to the buffered host
// reader. The UseACIA mode in internal/config is not consulted here.
type Console struct {
	r *bufio.Reader
	w io.Writer

	writeReady *kthread.Semaphore
	st         *stats.Stats
}

func NewConsole(in io.Reader, out io.Writer, sched *kthread.Scheduler, intr *machine.Interrupts, st *stats.Stats) *Console {
	return &Console{
		r:          bufio.NewReader(in),
		w:          out,
		writeReady: kthread.NewSemaphore("console:write", 1, intr, sched),
		st:         st,
	}
}

// GetChar reads the next byte from the host input, blocking the calling
// goroutine until one is available or the input ends. No semaphore is
// involved, so the scheduler does not switch threads while it waits.
func (c *Console) GetChar() (byte, error) {
	b, err := c.r.ReadByte()
	if err == io.EOF {
		return 0, io.EOF
	}
	if err != nil {
		return 0, err
	}
	c.st.ConsoleReads.Add(1)
	return b, nil
}

// PutChar blocks until any previous write has completed, then writes b.
// With a single in-process writer this is never actually contended, but
// the semaphore mirrors the real device's one-character-at-a-time
// interrupt protocol.
func (c *Console) PutChar(b byte) error {
	c.writeReady.P()
	defer c.writeReady.V()
	if _, err := c.w.Write([]byte{b}); err != nil {
		return err
	}
	c.st.ConsoleWrites.Add(1)
	return nil
}
