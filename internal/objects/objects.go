// Package objects implements the syscall-visible object registry (C17):
// integer IDs, starting at 3 (0/1/2 are reserved for the console file
// descriptors), mapped to kernel object pointers tagged by kind, so the
// dispatcher can validate an untrusted ID before dereferencing
// (spec.md §3, §4.5).
package objects

import (
	"fmt"
	"sync"

	"github.com/nachgo/nachos/internal/kernerr"
)

type Kind int

const (
	KindFile Kind = iota
	KindThread
	KindSemaphore
	KindLock
	KindCondition
)

// firstID: object IDs 0, 1, 2 are reserved for console stdin/stdout/
// stderr (spec.md §4.5).
const firstID = 3

func (k Kind) invalidErrKind() kernerr.Kind {
	switch k {
	case KindFile:
		return kernerr.InvalidFileID
	case KindThread:
		return kernerr.InvalidThreadID
	case KindSemaphore:
		return kernerr.InvalidSemaphoreID
	case KindLock:
		return kernerr.InvalidLockID
	case KindCondition:
		return kernerr.InvalidConditionID
	default:
		return kernerr.IncError
	}
}

type entry struct {
	kind  Kind
	value any
}

// Registry is the process-visible ID table.
type Registry struct {
	mu      sync.Mutex
	next    uint32
	entries map[uint32]entry
}

func New() *Registry {
	return &Registry{next: firstID, entries: make(map[uint32]entry)}
}

// Register allocates a fresh ID for value tagged as kind.
func (r *Registry) Register(kind Kind, value any) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next++
	r.entries[id] = entry{kind: kind, value: value}
	return id
}

// Lookup validates id exists and carries the expected kind tag before
// returning its value — the dispatcher's two-step ID validation
// (spec.md §4.5).
func (r *Registry) Lookup(id uint32, want Kind) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, kernerr.New(want.invalidErrKind(), fmt.Sprintf("id %d not found", id))
	}
	if e.kind != want {
		return nil, kernerr.New(want.invalidErrKind(), fmt.Sprintf("id %d is not the expected kind", id))
	}
	return e.value, nil
}

// Release removes id from the registry (e.g. on Close/thread Finish).
func (r *Registry) Release(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}
