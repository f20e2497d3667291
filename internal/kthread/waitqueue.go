package kthread

import "github.com/nachgo/nachos/internal/kernerr"

// WaitQueue is the FIFO of suspended threads underlying every
// synchronization primitive (C1). All mutation happens with the machine's
// interrupts disabled by the caller; WaitQueue itself holds no lock of its
// own because the interrupt-disable critical section is the only mutual
// exclusion mechanism the kernel uses (spec.md §4.1).
type WaitQueue struct {
	threads []*Thread
}

func NewWaitQueue() *WaitQueue {
	return &WaitQueue{}
}

// Enqueue appends t to the tail of the FIFO. Caller holds interrupts
// disabled.
func (q *WaitQueue) Enqueue(t *Thread) {
	q.threads = append(q.threads, t)
}

// Dequeue pops the head, or returns nil if empty. Caller holds interrupts
// disabled.
func (q *WaitQueue) Dequeue() *Thread {
	if len(q.threads) == 0 {
		return nil
	}
	t := q.threads[0]
	q.threads = q.threads[1:]
	return t
}

func (q *WaitQueue) Len() int { return len(q.threads) }

// AssertEmpty enforces spec.md §4.1: "destruction of any of these
// primitives asserts its wait queue is empty."
func (q *WaitQueue) AssertEmpty(component string) {
	if len(q.threads) != 0 {
		kernerr.Panic(component, "wait queue destroyed while nonempty", "waiters", len(q.threads))
	}
}
