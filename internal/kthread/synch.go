package kthread

import (
	"github.com/nachgo/nachos/internal/kernerr"
	"github.com/nachgo/nachos/internal/machine"
)

// Semaphore is a counting semaphore with a FIFO wait queue (C2). P and V
// mask interrupts around their critical sections per spec.md §4.1: this is
// the only mutual exclusion the kernel primitives use.
type Semaphore struct {
	name  string
	intr  *machine.Interrupts
	sched *Scheduler
	value int
	queue *WaitQueue
}

func NewSemaphore(name string, initial int, intr *machine.Interrupts, sched *Scheduler) *Semaphore {
	return &Semaphore{name: name, intr: intr, sched: sched, value: initial, queue: NewWaitQueue()}
}

// P decrements the semaphore; if the result goes negative the calling
// thread enqueues and sleeps, per spec.md §4.1's "pre-decrement
// convention."
func (s *Semaphore) P() {
	old := s.intr.Disable()
	s.value--
	if s.value < 0 {
		self := s.sched.Current()
		s.queue.Enqueue(self)
		s.intr.Restore(old)
		s.sched.Sleep()
		return
	}
	s.intr.Restore(old)
}

// V increments the semaphore and, iff a waiter actually exists (the value
// was negative before the increment), wakes exactly one.
func (s *Semaphore) V() {
	old := s.intr.Disable()
	s.value++
	var w *Thread
	if s.value <= 0 {
		w = s.queue.Dequeue()
	}
	s.intr.Restore(old)
	// ReadyToRun masks interrupts itself, and Disable does not nest.
	if w != nil {
		s.sched.ReadyToRun(w)
	}
}

func (s *Semaphore) Value() int {
	old := s.intr.Disable()
	defer s.intr.Restore(old)
	return s.value
}

// Destroy asserts the wait queue is empty, per spec.md §4.1.
func (s *Semaphore) Destroy() { s.queue.AssertEmpty("semaphore:" + s.name) }

// Lock is a non-recursive, owned lock (C2). Acquire loops: each failed
// attempt enqueues and sleeps, and on wake-up it returns if Release handed
// it ownership, otherwise it retries from the top.
type Lock struct {
	name  string
	intr  *machine.Interrupts
	sched *Scheduler
	free  bool
	owner *Thread
	queue *WaitQueue
}

func NewLock(name string, intr *machine.Interrupts, sched *Scheduler) *Lock {
	return &Lock{name: name, intr: intr, sched: sched, free: true, queue: NewWaitQueue()}
}

func (l *Lock) Acquire() {
	for {
		old := l.intr.Disable()
		if l.free {
			l.free = false
			l.owner = l.sched.Current()
			l.intr.Restore(old)
			return
		}
		self := l.sched.Current()
		l.queue.Enqueue(self)
		l.intr.Restore(old)
		l.sched.Sleep()
		// Woken: Release hands ownership directly to the waiter it dequeues
		// (without setting free), so return if that is us; otherwise retry.
		old = l.intr.Disable()
		owned := l.owner == self
		l.intr.Restore(old)
		if owned {
			return
		}
	}
}

// Release asserts the caller owns the lock. If waiters exist it transfers
// ownership directly to one of them without clearing `free`, preventing a
// third thread from barging in ahead of the waiter that was promised the
// lock (spec.md §4.1 and Design Notes' documented-intentional behavior).
// Otherwise it marks the lock free.
func (l *Lock) Release() {
	old := l.intr.Disable()
	if l.owner != l.sched.Current() {
		l.intr.Restore(old)
		kernerr.Panic("lock:"+l.name, "Release called by non-owner")
		return
	}
	if w := l.queue.Dequeue(); w != nil {
		l.owner = w
		l.intr.Restore(old)
		l.sched.ReadyToRun(w) // masks interrupts itself; Disable does not nest
		return
	}
	l.free = true
	l.owner = nil
	l.intr.Restore(old)
}

func (l *Lock) IsHeldByCurrentThread() bool {
	old := l.intr.Disable()
	defer l.intr.Restore(old)
	return l.owner == l.sched.Current()
}

func (l *Lock) Destroy() { l.queue.AssertEmpty("lock:" + l.name) }

// Condition is a Mesa-style condition variable (C2): no lock of its own.
// The caller is expected to hold a user-chosen lock around the predicate
// test and release/reacquire it manually around Wait — the condvar does
// not do this automatically, by documented contract.
type Condition struct {
	name  string
	intr  *machine.Interrupts
	sched *Scheduler
	queue *WaitQueue
}

func NewCondition(name string, intr *machine.Interrupts, sched *Scheduler) *Condition {
	return &Condition{name: name, intr: intr, sched: sched, queue: NewWaitQueue()}
}

// Wait enqueues and sleeps atomically. Callers must release their
// associated lock before calling and reacquire it after Wait returns, and
// must re-check the predicate (Mesa semantics: a signaled waiter is merely
// made ready, not guaranteed the predicate still holds).
func (c *Condition) Wait() {
	old := c.intr.Disable()
	self := c.sched.Current()
	c.queue.Enqueue(self)
	c.intr.Restore(old)
	c.sched.Sleep()
}

// Signal wakes at most one waiter.
func (c *Condition) Signal() {
	old := c.intr.Disable()
	w := c.queue.Dequeue()
	c.intr.Restore(old)
	// ReadyToRun masks interrupts itself, and Disable does not nest.
	if w != nil {
		c.sched.ReadyToRun(w)
	}
}

// Broadcast wakes every waiter.
func (c *Condition) Broadcast() {
	old := c.intr.Disable()
	var woken []*Thread
	for {
		w := c.queue.Dequeue()
		if w == nil {
			break
		}
		woken = append(woken, w)
	}
	c.intr.Restore(old)
	// ReadyToRun masks interrupts itself, and Disable does not nest.
	for _, w := range woken {
		c.sched.ReadyToRun(w)
	}
}

func (c *Condition) Destroy() { c.queue.AssertEmpty("condition:" + c.name) }
