// Package kernerr implements the kernel's error taxonomy (spec §7) and the
// message templates the original kernel/msgerror.h carries for PError.
package kernerr

import (
	"fmt"
	"os"

	"github.com/nachgo/nachos/internal/klog"
)

// Kind is one entry of the error taxonomy enumerated in spec.md §7.
type Kind int

const (
	NoError Kind = iota
	IncError
	OpenFileError
	ExecFileFormatError
	OutOfMemory
	OutOfDisk
	AlreadyInDirectory
	InexistFile
	InexistDirectory
	NoSpaceInDirectory
	NotAFile
	NotADirectory
	DirectoryNotEmpty
	InvalidCounter
	InvalidSemaphoreID
	InvalidLockID
	InvalidConditionID
	InvalidFileID
	InvalidThreadID
	WrongFileEndianess
	NoACIA
	FileTooLarge
)

// templates mirrors msgerror.h: one fixed English sentence per kind, with a
// "%s" slot for the caller-supplied context string.
var templates = map[Kind]string{
	NoError:             "no error",
	IncError:            "%s: inconsistent kernel state",
	OpenFileError:       "%s: could not open file",
	ExecFileFormatError: "%s: executable has an unrecognized format",
	OutOfMemory:         "%s: out of memory",
	OutOfDisk:           "%s: out of disk space",
	AlreadyInDirectory:  "%s: already exists",
	InexistFile:         "%s: no such file",
	InexistDirectory:    "%s: no such directory",
	NoSpaceInDirectory:  "%s: directory is full",
	NotAFile:            "%s: not a file",
	NotADirectory:       "%s: not a directory",
	DirectoryNotEmpty:   "%s: directory not empty",
	InvalidCounter:      "%s: invalid counter",
	InvalidSemaphoreID:  "%s: invalid semaphore id",
	InvalidLockID:       "%s: invalid lock id",
	InvalidConditionID:  "%s: invalid condition id",
	InvalidFileID:       "%s: invalid file id",
	InvalidThreadID:     "%s: invalid thread id",
	WrongFileEndianess:  "%s: executable endianness does not match the host",
	NoACIA:              "%s: no ACIA device configured",
	FileTooLarge:        "%s: file exceeds the maximum file size",
}

// KernelError is a user-induced failure: it never crashes the kernel, it is
// returned from a subsystem call, turned into the syscall -1 sentinel by
// the dispatcher, and retrievable by PError.
type KernelError struct {
	Kind    Kind
	Context string
}

func New(kind Kind, context string) *KernelError {
	return &KernelError{Kind: kind, Context: context}
}

func (e *KernelError) Error() string {
	tmpl, ok := templates[e.Kind]
	if !ok {
		tmpl = "%s: unknown error"
	}
	return fmt.Sprintf(tmpl, e.Context)
}

// Is reports whether err is a *KernelError of the given kind, so callers
// can branch on error kind without string matching.
func Is(err error, kind Kind) bool {
	ke, ok := err.(*KernelError)
	return ok && ke.Kind == kind
}

// Panic reports a kernel-internal invariant violation (frame table
// inconsistency, double free, wait queue nonempty at destruction, unknown
// syscall number, ...) and halts the whole kernel with exit code -1, per
// spec.md §6/§7: these are never returned to user code.
func Panic(component, msg string, args ...any) {
	klog.For(component).Error(msg, args...)
	os.Exit(-1)
}
