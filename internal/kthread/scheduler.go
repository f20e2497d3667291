package kthread

import (
	"runtime"
	"sync/atomic"

	"github.com/nachgo/nachos/internal/machine"
	"github.com/nachgo/nachos/internal/stats"
)

// Scheduler holds the ready queue for one simulated CPU (C4). Single
// logical CPU, cooperative scheduling, strict FIFO, no priorities
// (spec.md §5).
//
// Design Notes calls out that the source defers deleting a finished thread
// to its successor, because the dying C++ thread cannot free its own stack
// while still running on it. A goroutine-backed thread has no such
// problem: its goroutine simply returns after Finish, and the Thread value
// becomes garbage once nothing still references it (which is exactly what
// Thread.finish's onFinish hooks arrange, by unlinking it from its owning
// Process). So there is no explicit reap step here — SwitchTo only hands
// off the baton.
type Scheduler struct {
	intr  *machine.Interrupts
	stats *stats.Stats

	ready   []*Thread
	current *Thread

	// tickPending is set by Tick, which runs on the timer's own background
	// goroutine (machine.Timer.ScheduleEvery), never on the current kernel
	// thread's goroutine. It must therefore never touch current/ready/baton
	// itself (spec.md §5: preemption happens only "at interrupt-delivery
	// points", and SwitchTo's baton handoff is only safe when called by the
	// goroutine that is actually current). Setting a flag is the one thing
	// safe to do from an arbitrary goroutine; CheckPreempt, called by the
	// current thread's own goroutine at its next syscall return (the
	// closest thing this model has to an instruction boundary), is what
	// actually yields.
	tickPending atomic.Bool
}

func NewScheduler(intr *machine.Interrupts) *Scheduler {
	return &Scheduler{intr: intr}
}

// SetStats wires the counters Tick increments (SPEC_FULL §12.4/§12.5).
// Left unset, Tick/Yield behave exactly as before — nil is the default
// for every call site that doesn't care about statistics.
func (s *Scheduler) SetStats(st *stats.Stats) { s.stats = st }

// Tick is the timer's periodic callback (cmd/nachos wires
// machine.Timer.ScheduleEvery to this). It runs on the timer's own
// goroutine, not the current thread's, so it only counts one simulated
// clock tick of user-mode time elapsing and raises tickPending — it must
// never call Yield/SwitchTo directly. CheckPreempt does the actual
// switch, from the right goroutine. Dispatch separately counts system
// ticks for the time spent handling a syscall.
func (s *Scheduler) Tick() {
	if s.stats != nil {
		s.stats.TickUser(1)
	}
	s.tickPending.Store(true)
}

// CheckPreempt is the current thread's own goroutine asking "has a timer
// tick arrived since I last checked?". Call it only from code running as
// the current thread, at a point safe to suspend (internal/syscall.Dispatch
// calls it once per syscall, right before returning to user mode — the
// only instruction-boundary-equivalent this model has). If a tick landed,
// it consumes the flag and yields, giving the illusion of preemption
// without ever switching threads from outside the baton protocol.
func (s *Scheduler) CheckPreempt() {
	if s.tickPending.CompareAndSwap(true, false) {
		s.Yield()
	}
}

// NewThread creates an empty thread in the Created state (spec.md §3's
// thread lifecycle: "created empty").
func (s *Scheduler) NewThread(name string) *Thread {
	return newThread(name)
}

// Bootstrap designates t as the thread that is "already running" without
// going through SwitchTo — used once, for the kernel's initial thread,
// exactly as Nachos's currentThread is set up before the first SwitchTo.
func (s *Scheduler) Bootstrap(t *Thread) {
	t.setState(Running)
	s.current = t
}

func (s *Scheduler) Current() *Thread { return s.current }

// ReadyToRun appends t to the ready queue (spec.md §4.2).
func (s *Scheduler) ReadyToRun(t *Thread) {
	old := s.intr.Disable()
	t.setState(Ready)
	s.ready = append(s.ready, t)
	s.intr.Restore(old)
}

// FindNextToRun pops the head of the ready queue, or returns nil.
func (s *Scheduler) FindNextToRun() *Thread {
	old := s.intr.Disable()
	defer s.intr.Restore(old)
	if len(s.ready) == 0 {
		return nil
	}
	t := s.ready[0]
	s.ready = s.ready[1:]
	return t
}

// Start allocates the thread's initial simulated-CPU context and makes it
// ready to run (C3 "created empty -> ready"). It records pc/arg in the
// thread's Regs; the caller (internal/process) has already wired t.Process
// to something satisfying RunThread.
func (s *Scheduler) Start(t *Thread, pc, arg int64) {
	t.Regs.PC = pc
	t.Regs.Int[machine.RegArg0] = arg
	go func() {
		<-t.baton
		s.runBody(t)
	}()
	s.ReadyToRun(t)
}

// runBody is the trampoline every thread's goroutine runs once scheduled.
func (s *Scheduler) runBody(t *Thread) {
	if body, ok := t.Process.(interface{ RunThread(*Thread) }); ok {
		body.RunThread(t)
	}
	s.Finish(t)
}

// Yield puts self on the ready queue and switches to the next thread
// (spec.md §4.2, §5: "a suspension that immediately requeues").
func (s *Scheduler) Yield() {
	self := s.current
	next := s.FindNextToRun()
	if next == nil {
		return // nothing else runnable, keep going
	}
	s.ReadyToRun(self)
	s.SwitchTo(next)
}

// Sleep switches away from self without enqueueing it anywhere; the caller
// must already have placed self on some wait queue (spec.md §4.2).
func (s *Scheduler) Sleep() {
	self := s.current
	self.setState(Blocked)
	s.sleepSelf(self)
}

// sleepSelf is Sleep's body, factored out so Thread.Join (which enqueues
// itself on the target's joinWaiters rather than a WaitQueue) can reuse it.
func (s *Scheduler) sleepSelf(self *Thread) {
	next := s.idleUntilReady()
	s.SwitchTo(next)
}

// idleUntilReady blocks until some other goroutine (a timer firing, a disk
// completion, another thread's V/Signal) calls ReadyToRun. A real machine
// would halt until the next device interrupt; this is that halt.
func (s *Scheduler) idleUntilReady() *Thread {
	for {
		if t := s.FindNextToRun(); t != nil {
			return t
		}
		runtime.Gosched()
	}
}

// SwitchTo saves the current thread's context (implicit: its goroutine
// blocks on its own baton) and resumes next (hands it the baton), per C4.
func (s *Scheduler) SwitchTo(next *Thread) {
	prev := s.current
	s.current = next
	next.setState(Running)
	if prev == next {
		return // already on this goroutine: no baton to hand over
	}

	next.baton <- struct{}{}

	if prev != nil {
		<-prev.baton
	}
}

// Finish marks t for reaping and sleeps forever (spec.md §3): the
// goroutine backing t returns right after this call.
func (s *Scheduler) Finish(t *Thread) {
	t.finish(s)
	next := s.idleUntilReady()
	s.current = next
	next.setState(Running)
	next.baton <- struct{}{}
	// t's goroutine never receives its baton again; it returns to runBody's
	// caller and exits.
}
