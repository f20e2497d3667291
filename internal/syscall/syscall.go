// Package syscall implements the system-call dispatcher (C18): decode the
// syscall number from register 17, arguments from registers 10-13, write
// the return value to register 10 (spec.md §4.5).
//
// spec.md §1 puts the instruction decoder and the individual-access MMU
// translation out of scope, so there is no real user-mode byte stream to
// decode a string or buffer pointer out of. Dispatch keeps the letter of
// §4.5's contract — user pointers are never dereferenced directly, bytes
// come through a bounded, NUL-terminating copy — against a UserMemory
// collaborator that stands in for the real (out-of-scope) MMU; FlatMemory
// below is the reference implementation tests and cmd/nachos wire in.
package syscall

import (
	"errors"
	"fmt"
	"io"

	"github.com/nachgo/nachos/internal/diskio"
	"github.com/nachgo/nachos/internal/elfload"
	"github.com/nachgo/nachos/internal/fs/filesys"
	"github.com/nachgo/nachos/internal/fs/openfile"
	"github.com/nachgo/nachos/internal/kernerr"
	"github.com/nachgo/nachos/internal/kthread"
	"github.com/nachgo/nachos/internal/machine"
	"github.com/nachgo/nachos/internal/objects"
	"github.com/nachgo/nachos/internal/process"
	"github.com/nachgo/nachos/internal/stats"
	"github.com/nachgo/nachos/internal/vm/addrspace"
	"github.com/nachgo/nachos/internal/vm/physmem"
)

// Syscall numbers. spec.md §4.5 names the identifiers but leaves their
// numeric encoding unspecified ("recognized identifiers enumerated
// elsewhere"); DESIGN.md records the choice of a dense 0..20 assignment in
// the order spec.md lists them.
const (
	Halt = iota
	SysTime
	Exit
	Exec
	NewThread
	Join
	Yield
	PError
	Create
	Open
	Read
	Write
	Seek
	Close
	Remove
	Mkdir
	Rmdir
	FSList
	TtySend
	TtyReceive
	Mmap
)

const maxStringLen = 256

// Console file descriptors (spec.md §4.5): 0 = stdin, 1 = stdout,
// 2 = stderr, all routed to the console driver rather than the file
// system.
const (
	fdStdin  = 0
	fdStdout = 1
	fdStderr = 2
)

// UserMemory is the MMU's ReadMem/WriteMem surface, narrowed to what the
// dispatcher needs to copy strings and buffers in and out of kernel space.
type UserMemory interface {
	ReadMem(addr uint64, buf []byte) error
	WriteMem(addr uint64, buf []byte) error
}

// FlatMemory is a reference UserMemory backed by a single flat byte slice,
// standing in for the out-of-scope MMU/instruction-decoder layer so tests
// and cmd/nachos have something concrete to hand user programs.
type FlatMemory struct {
	Bytes []byte
}

func NewFlatMemory(size int) *FlatMemory { return &FlatMemory{Bytes: make([]byte, size)} }

func (m *FlatMemory) ReadMem(addr uint64, buf []byte) error {
	if addr+uint64(len(buf)) > uint64(len(m.Bytes)) {
		return fmt.Errorf("syscall: read past end of user memory")
	}
	copy(buf, m.Bytes[addr:])
	return nil
}

func (m *FlatMemory) WriteMem(addr uint64, buf []byte) error {
	if addr+uint64(len(buf)) > uint64(len(m.Bytes)) {
		return fmt.Errorf("syscall: write past end of user memory")
	}
	copy(m.Bytes[addr:], buf)
	return nil
}

// ExitSignal is returned by Dispatch when the calling thread (Exit) or the
// whole kernel (Halt) should stop running; a Body loop checks for it with
// errors.As and returns instead of dispatching another trap.
type ExitSignal struct {
	Code int64
	Halt bool
}

func (e *ExitSignal) Error() string {
	if e.Halt {
		return fmt.Sprintf("halt(%d)", e.Code)
	}
	return fmt.Sprintf("exit(%d)", e.Code)
}

// Context is the set of global kernel singletons the dispatcher needs
// (Design Notes' "Global kernel singletons"); internal/kernel owns the one
// long-lived instance and passes it to every trap.
type Context struct {
	FS      *filesys.FileSystem
	Sched   *kthread.Scheduler
	Intr    *machine.Interrupts
	Phys    *physmem.Manager
	Objects *objects.Registry
	Console *diskio.Console
	Stats   *stats.Stats

	PageSize      uint32
	MaxVirtPages  uint64
	UserStackSize uint32
	EagerLoad     bool
	PrintStat     bool

	// Entries resolves the string naming a program's or thread's entry
	// point (read out of user memory the same way a path argument is) to
	// the Go closure that plays its part, since there is no instruction
	// stream to jump into (see the package doc comment). Exec looks a
	// path's base name up here; NewThread looks its entry-name argument up
	// here too.
	Entries map[string]process.Body

	Shutdown func()
}

// consoleWrite serves writes to file descriptors 1 and 2 alike, one byte at
// a time, since the console driver itself does not distinguish them.
func (ctx *Context) consoleWrite(fd int64, buf []byte) (int, error) {
	n := 0
	for _, b := range buf {
		if err := ctx.Console.PutChar(b); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (ctx *Context) consoleRead(buf []byte) (int, error) {
	for i := range buf {
		b, err := ctx.Console.GetChar()
		if err == io.EOF {
			return i, nil
		}
		if err != nil {
			return i, err
		}
		buf[i] = b
	}
	return len(buf), nil
}

func readUserString(mem UserMemory, addr uint64) (string, error) {
	buf := make([]byte, 1)
	out := make([]byte, 0, maxStringLen)
	for i := 0; i < maxStringLen; i++ {
		if err := mem.ReadMem(addr+uint64(i), buf); err != nil {
			return "", err
		}
		if buf[0] == 0 {
			return string(out), nil
		}
		out = append(out, buf[0])
	}
	return string(out), nil // forcibly truncated/NUL-terminated at maxStringLen
}

// Dispatch decodes t.Regs (syscall number in Int[17], args in Int[10-13])
// runs the handler, and writes the result back into Int[10] — spec.md
// §4.5's register convention. It returns a non-nil *ExitSignal when the
// calling thread or the kernel should stop running; any other error is a
// kernel-internal failure the caller should treat as fatal (kernerr.Panic).
func Dispatch(ctx *Context, proc *process.Process, t *kthread.Thread, mem UserMemory) error {
	num := t.Regs.Int[machine.RegSyscallNumber]
	a0 := t.Regs.Int[machine.RegArg0]
	a1 := t.Regs.Int[machine.RegArg1]
	a2 := t.Regs.Int[machine.RegArg2]
	a3 := t.Regs.Int[machine.RegArg3]

	ctx.Stats.SyscallsHandled.Add(1)
	ctx.Stats.TickSystem(1)

	ret, kerr, exit := ctx.handle(proc, t, mem, num, a0, a1, a2, a3)
	if exit != nil {
		return exit
	}
	if kerr != nil {
		proc.SetLastError(kerr)
		t.Regs.Int[machine.RegReturn] = -1
		ctx.Sched.CheckPreempt()
		return nil
	}
	proc.ClearLastError()
	t.Regs.Int[machine.RegReturn] = ret
	// Returning to user mode is the closest this model has to an
	// interrupt-delivery point (spec.md §5); this is where a pending timer
	// tick actually takes effect, on the calling thread's own goroutine.
	ctx.Sched.CheckPreempt()
	return nil
}

func (ctx *Context) handle(proc *process.Process, t *kthread.Thread, mem UserMemory, num, a0, a1, a2, a3 int64) (ret int64, kerr *kernerr.KernelError, exit *ExitSignal) {
	switch num {
	case Halt:
		if ctx.PrintStat {
			_, _ = ctx.consoleWrite(fdStdout, []byte(ctx.Stats.Render()))
		}
		if ctx.Shutdown != nil {
			ctx.Shutdown()
		}
		return 0, nil, &ExitSignal{Code: 0, Halt: true}

	case SysTime:
		return ctx.Stats.TotalTicks.Load(), nil, nil

	case Exit:
		return 0, nil, &ExitSignal{Code: a0}

	case Exec:
		return ctx.sysExec(proc, mem, uint64(a0))

	case NewThread:
		return ctx.sysNewThread(proc, mem, uint64(a0), a1)

	case Join:
		return ctx.sysJoin(uint32(a0))

	case Yield:
		ctx.Sched.Yield()
		return 0, nil, nil

	case PError:
		return ctx.sysPError(proc, mem, uint64(a0))

	case Create:
		return ctx.sysCreate(mem, uint64(a0), uint32(a1))

	case Open:
		return ctx.sysOpen(mem, uint64(a0))

	case Read:
		return ctx.sysRead(mem, uint32(a0), uint64(a1), int(a2))

	case Write:
		return ctx.sysWrite(mem, uint32(a0), uint64(a1), int(a2))

	case Seek:
		return ctx.sysSeek(uint32(a0), uint32(a1))

	case Close:
		return ctx.sysClose(uint32(a0))

	case Remove:
		return ctx.sysRemove(mem, uint64(a0))

	case Mkdir:
		return ctx.sysMkdir(mem, uint64(a0))

	case Rmdir:
		return ctx.sysRmdir(mem, uint64(a0))

	case FSList:
		return ctx.sysFSList(mem, uint64(a0))

	case TtySend:
		return ctx.sysTtySend(mem, uint64(a0), int(a1))

	case TtyReceive:
		return ctx.sysTtyReceive(mem, uint64(a0), int(a1))

	case Mmap:
		return ctx.sysMmap(proc, mem, uint64(a0))

	default:
		return 0, kernerr.New(kernerr.IncError, fmt.Sprintf("unknown syscall number %d", num)), nil
	}
}

func (ctx *Context) sysExec(proc *process.Process, mem UserMemory, pathAddr uint64) (int64, *kernerr.KernelError, *ExitSignal) {
	path, err := readUserString(mem, pathAddr)
	if err != nil {
		return -1, kernerr.New(kernerr.OpenFileError, "exec"), nil
	}
	of, err := ctx.FS.Open(path)
	if err != nil {
		return -1, asKernelError(err, path), nil
	}
	raw := make([]byte, of.Length())
	if _, err := of.ReadAt(raw, len(raw), 0); err != nil {
		return -1, kernerr.New(kernerr.OpenFileError, path), nil
	}
	elf, err := elfload.Parse(raw)
	if err != nil {
		if errors.Is(err, elfload.ErrWrongEndianness) {
			return -1, kernerr.New(kernerr.WrongFileEndianess, path), nil
		}
		return -1, kernerr.New(kernerr.ExecFileFormatError, path), nil
	}

	as := addrspace.New(ctx.MaxVirtPages, ctx.PageSize, ctx.Intr, ctx.Sched)
	if err := as.LoadELF(elf, of, ctx.Phys, ctx.EagerLoad); err != nil {
		return -1, asKernelError(err, path), nil
	}
	if _, err := as.StackAllocate(ctx.UserStackSize, ctx.Phys); err != nil {
		return -1, asKernelError(err, path), nil
	}

	child := process.New(as, of)
	body := ctx.Entries[baseName(path)]
	thread := child.Spawn(ctx.Sched, path, int64(elf.Entry), 0, body)
	id := ctx.Objects.Register(objects.KindThread, thread)
	return int64(id), nil, nil
}

func (ctx *Context) sysNewThread(proc *process.Process, mem UserMemory, entryAddr uint64, arg int64) (int64, *kernerr.KernelError, *ExitSignal) {
	name, err := readUserString(mem, entryAddr)
	if err != nil {
		return -1, kernerr.New(kernerr.IncError, "newthread"), nil
	}
	body, ok := ctx.Entries[name]
	if !ok {
		return -1, kernerr.New(kernerr.IncError, fmt.Sprintf("newthread: unknown entry %q", name)), nil
	}
	thread := proc.Spawn(ctx.Sched, name, 0, arg, body)
	id := ctx.Objects.Register(objects.KindThread, thread)
	return int64(id), nil, nil
}

func (ctx *Context) sysJoin(id uint32) (int64, *kernerr.KernelError, *ExitSignal) {
	v, err := ctx.Objects.Lookup(id, objects.KindThread)
	if err != nil {
		return -1, err.(*kernerr.KernelError), nil
	}
	thread := v.(*kthread.Thread)
	thread.Join(ctx.Sched)
	ctx.Objects.Release(id)
	return 0, nil, nil
}

func (ctx *Context) sysPError(proc *process.Process, mem UserMemory, bufAddr uint64) (int64, *kernerr.KernelError, *ExitSignal) {
	lastErr := proc.LastError()
	msg := "no error"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	buf := append([]byte(msg), 0)
	if err := mem.WriteMem(bufAddr, buf); err != nil {
		return -1, kernerr.New(kernerr.IncError, "perror"), nil
	}
	return int64(len(msg)), nil, nil
}

func (ctx *Context) sysCreate(mem UserMemory, pathAddr uint64, size uint32) (int64, *kernerr.KernelError, *ExitSignal) {
	path, err := readUserString(mem, pathAddr)
	if err != nil {
		return -1, kernerr.New(kernerr.IncError, "create"), nil
	}
	if err := ctx.FS.Create(path, size); err != nil {
		return -1, asKernelError(err, path), nil
	}
	return 0, nil, nil
}

func (ctx *Context) sysOpen(mem UserMemory, pathAddr uint64) (int64, *kernerr.KernelError, *ExitSignal) {
	path, err := readUserString(mem, pathAddr)
	if err != nil {
		return -1, kernerr.New(kernerr.IncError, "open"), nil
	}
	of, err := ctx.FS.Open(path)
	if err != nil {
		return -1, asKernelError(err, path), nil
	}
	id := ctx.Objects.Register(objects.KindFile, of)
	return int64(id), nil, nil
}

func (ctx *Context) sysRead(mem UserMemory, fd uint32, bufAddr uint64, n int) (int64, *kernerr.KernelError, *ExitSignal) {
	if n < 0 {
		return -1, kernerr.New(kernerr.IncError, "read"), nil
	}
	tmp := make([]byte, n)

	if fd == fdStdin {
		got, err := ctx.consoleRead(tmp)
		if err != nil {
			return -1, kernerr.New(kernerr.NoACIA, "read"), nil
		}
		if err := mem.WriteMem(bufAddr, tmp[:got]); err != nil {
			return -1, kernerr.New(kernerr.IncError, "read"), nil
		}
		return int64(got), nil, nil
	}

	of, err := ctx.Objects.Lookup(fd, objects.KindFile)
	if err != nil {
		return -1, err.(*kernerr.KernelError), nil
	}
	handle := of.(*openfile.OpenFile)
	got, rerr := handle.Read(tmp)
	if rerr != nil {
		return -1, kernerr.New(kernerr.IncError, "read"), nil
	}
	if err := mem.WriteMem(bufAddr, tmp[:got]); err != nil {
		return -1, kernerr.New(kernerr.IncError, "read"), nil
	}
	return int64(got), nil, nil
}

func (ctx *Context) sysWrite(mem UserMemory, fd uint32, bufAddr uint64, n int) (int64, *kernerr.KernelError, *ExitSignal) {
	if n < 0 {
		return -1, kernerr.New(kernerr.IncError, "write"), nil
	}
	tmp := make([]byte, n)
	if err := mem.ReadMem(bufAddr, tmp); err != nil {
		return -1, kernerr.New(kernerr.IncError, "write"), nil
	}

	if fd == fdStdout || fd == fdStderr {
		n, err := ctx.consoleWrite(int64(fd), tmp)
		if err != nil {
			return -1, kernerr.New(kernerr.NoACIA, "write"), nil
		}
		return int64(n), nil, nil
	}

	of, err := ctx.Objects.Lookup(fd, objects.KindFile)
	if err != nil {
		return -1, err.(*kernerr.KernelError), nil
	}
	handle := of.(*openfile.OpenFile)
	written, werr := handle.Write(tmp)
	if werr != nil {
		return -1, kernerr.New(kernerr.IncError, "write"), nil
	}
	return int64(written), nil, nil
}

func (ctx *Context) sysSeek(fd uint32, pos uint32) (int64, *kernerr.KernelError, *ExitSignal) {
	v, err := ctx.Objects.Lookup(fd, objects.KindFile)
	if err != nil {
		return -1, err.(*kernerr.KernelError), nil
	}
	v.(*openfile.OpenFile).Seek(pos)
	return 0, nil, nil
}

func (ctx *Context) sysClose(fd uint32) (int64, *kernerr.KernelError, *ExitSignal) {
	v, err := ctx.Objects.Lookup(fd, objects.KindFile)
	if err != nil {
		return -1, err.(*kernerr.KernelError), nil
	}
	of := v.(*openfile.OpenFile)
	if err := ctx.FS.Close(of); err != nil {
		return -1, asKernelError(err, of.Name()), nil
	}
	ctx.Objects.Release(fd)
	return 0, nil, nil
}

func (ctx *Context) sysRemove(mem UserMemory, pathAddr uint64) (int64, *kernerr.KernelError, *ExitSignal) {
	path, err := readUserString(mem, pathAddr)
	if err != nil {
		return -1, kernerr.New(kernerr.IncError, "remove"), nil
	}
	if err := ctx.FS.Remove(path); err != nil {
		return -1, asKernelError(err, path), nil
	}
	return 0, nil, nil
}

func (ctx *Context) sysMkdir(mem UserMemory, pathAddr uint64) (int64, *kernerr.KernelError, *ExitSignal) {
	path, err := readUserString(mem, pathAddr)
	if err != nil {
		return -1, kernerr.New(kernerr.IncError, "mkdir"), nil
	}
	if err := ctx.FS.Mkdir(path); err != nil {
		return -1, asKernelError(err, path), nil
	}
	return 0, nil, nil
}

func (ctx *Context) sysRmdir(mem UserMemory, pathAddr uint64) (int64, *kernerr.KernelError, *ExitSignal) {
	path, err := readUserString(mem, pathAddr)
	if err != nil {
		return -1, kernerr.New(kernerr.IncError, "rmdir"), nil
	}
	if err := ctx.FS.Rmdir(path); err != nil {
		return -1, asKernelError(err, path), nil
	}
	return 0, nil, nil
}

func (ctx *Context) sysFSList(mem UserMemory, pathAddr uint64) (int64, *kernerr.KernelError, *ExitSignal) {
	path, err := readUserString(mem, pathAddr)
	if err != nil {
		return -1, kernerr.New(kernerr.IncError, "fslist"), nil
	}
	var buf stringWriter
	if err := ctx.FS.List(path, &buf); err != nil {
		return -1, asKernelError(err, path), nil
	}
	_, _ = ctx.consoleWrite(fdStdout, []byte(buf.s))
	return 0, nil, nil
}

func (ctx *Context) sysTtySend(mem UserMemory, bufAddr uint64, n int) (int64, *kernerr.KernelError, *ExitSignal) {
	return ctx.sysWrite(mem, fdStdout, bufAddr, n)
}

func (ctx *Context) sysTtyReceive(mem UserMemory, bufAddr uint64, n int) (int64, *kernerr.KernelError, *ExitSignal) {
	return ctx.sysRead(mem, fdStdin, bufAddr, n)
}

// sysMmap demand-loads a file's bytes into the calling process's address
// space as a read-only region, backed by the open file rather than the
// executable — the original's AddrSpace::Mmap, marked "not implemented"
// in the source (spec.md §9's open-questions list). NachGo supplies its
// contract via AddressSpace.MapFile, which reserves a fresh virtual-page
// range rather than assuming it is the address space's first allocation
// (Exec's LoadELF and StackAllocate always run before a thread can reach
// this syscall), and returns the mapped region's base virtual address.
func (ctx *Context) sysMmap(proc *process.Process, mem UserMemory, fd uint64) (int64, *kernerr.KernelError, *ExitSignal) {
	v, err := ctx.Objects.Lookup(uint32(fd), objects.KindFile)
	if err != nil {
		return -1, err.(*kernerr.KernelError), nil
	}
	of := v.(*openfile.OpenFile)

	base, mapErr := proc.AddrSpace.MapFile(of, uint64(of.Length()), ctx.Phys, false)
	if mapErr != nil {
		return -1, asKernelError(mapErr, of.Name()), nil
	}
	return int64(base), nil, nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func asKernelError(err error, context string) *kernerr.KernelError {
	var ke *kernerr.KernelError
	if errors.As(err, &ke) {
		return ke
	}
	return kernerr.New(kernerr.IncError, context)
}

// stringWriter is an io.Writer that accumulates into a string, used to
// capture FS.List's output before relaying it through the console driver
// one byte at a time like every other console write.
type stringWriter struct{ s string }

func (w *stringWriter) Write(p []byte) (int, error) {
	w.s += string(p)
	return len(p), nil
}
