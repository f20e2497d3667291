// Package process implements the kernel process abstraction (C16):
// a group of threads sharing one address space and one executable
// handle, plus the per-process state the syscall dispatcher needs —
// thread count, last-error slot, and a diagnostic trace ID (spec.md
// §3, §4.5).
//
// The instruction decoder stays out of scope (internal/machine's
// doc comment), so a process's "user program" is not machine code but
// a Go closure supplied by whoever creates the thread (the kernel's
// Exec handling for the first thread, NewThread for the rest). Body
// calls back into the syscall dispatcher directly rather than
// trapping through decoded instructions — the same simplification the
// rest of this module makes at the machine boundary.
package process

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nachgo/nachos/internal/fs/openfile"
	"github.com/nachgo/nachos/internal/kernerr"
	"github.com/nachgo/nachos/internal/kthread"
	"github.com/nachgo/nachos/internal/vm/addrspace"
)

// Body is a thread's simulated "user program". t is the kernel thread
// running it; dispatchers reachable via closure capture let it issue
// syscalls.
type Body func(t *kthread.Thread)

// Process groups an address space, a thread count, and an open
// executable handle (spec.md §3 "Process").
type Process struct {
	TraceID    uuid.UUID
	AddrSpace  *addrspace.AddressSpace
	Executable *openfile.OpenFile

	mu         sync.Mutex
	numThreads int
	lastError  *kernerr.KernelError

	bodiesMu sync.Mutex
	bodies   map[uint64]Body
}

// New creates a process around an already-populated address space and
// the open file its executable was loaded from. exe may be nil for a
// process created without backing storage (e.g. a pure in-memory test
// harness).
func New(as *addrspace.AddressSpace, exe *openfile.OpenFile) *Process {
	return &Process{
		TraceID:    uuid.New(),
		AddrSpace:  as,
		Executable: exe,
		bodies:     make(map[uint64]Body),
	}
}

// RunThread is the scheduler trampoline hook (kthread.Scheduler.runBody
// looks for this via duck typing). It runs the Go closure registered
// for t via Spawn, then falls through silently if none was registered
// (the thread simply finishes, e.g. for a thread created but never
// given a body in a test).
func (p *Process) RunThread(t *kthread.Thread) {
	p.bodiesMu.Lock()
	body, ok := p.bodies[t.ID]
	delete(p.bodies, t.ID)
	p.bodiesMu.Unlock()
	if ok && body != nil {
		body(t)
	}
}

// Spawn creates a new thread owned by p, running body, and starts it
// on sched with initial registers (pc, arg0) — vestigial now that
// threads run as Go closures rather than decoded instructions, but
// kept so a thread's Regs still reflect where/with-what it "started"
// for statistics and debugging.
func (p *Process) Spawn(sched *kthread.Scheduler, name string, pc, arg0 int64, body Body) *kthread.Thread {
	t := sched.NewThread(name)
	t.Process = p
	p.AddThread()
	t.OnFinish(func(*kthread.Thread) { p.RemoveThread() })

	p.bodiesMu.Lock()
	p.bodies[t.ID] = body
	p.bodiesMu.Unlock()

	sched.Start(t, pc, arg0)
	return t
}

// AddThread/RemoveThread track how many live threads reference p, so
// the owner (kernel or Exit syscall) knows when the process's address
// space can be torn down.
func (p *Process) AddThread() {
	p.mu.Lock()
	p.numThreads++
	p.mu.Unlock()
}

func (p *Process) RemoveThread() int {
	p.mu.Lock()
	p.numThreads--
	n := p.numThreads
	p.mu.Unlock()
	return n
}

func (p *Process) NumThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.numThreads
}

// SetLastError/LastError/ClearLastError implement the last-error slot
// PError reads (spec.md §4.5): the most recent failing syscall's
// {kind, context} pair, one slot per process.
func (p *Process) SetLastError(err *kernerr.KernelError) {
	p.mu.Lock()
	p.lastError = err
	p.mu.Unlock()
}

func (p *Process) LastError() *kernerr.KernelError {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastError
}

func (p *Process) ClearLastError() {
	p.mu.Lock()
	p.lastError = nil
	p.mu.Unlock()
}
