package syscall_test

import (
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/nachgo/nachos/internal/diskio"
	"github.com/nachgo/nachos/internal/fs/filesys"
	"github.com/nachgo/nachos/internal/kernerr"
	"github.com/nachgo/nachos/internal/kthread"
	"github.com/nachgo/nachos/internal/machine"
	"github.com/nachgo/nachos/internal/objects"
	"github.com/nachgo/nachos/internal/process"
	"github.com/nachgo/nachos/internal/stats"
	"github.com/nachgo/nachos/internal/syscall"
	"github.com/nachgo/nachos/internal/vm/addrspace"
	"github.com/nachgo/nachos/internal/vm/physmem"
	"github.com/nachgo/nachos/internal/vm/swap"
)

func newCtx(t *testing.T) (*syscall.Context, *kthread.Thread, *syscall.FlatMemory) {
	intr := machine.NewInterrupts()
	sched := kthread.NewScheduler(intr)
	main := sched.NewThread("main")
	sched.Bootstrap(main)

	st := stats.New()
	disk, err := diskio.NewDisk(afero.NewMemMapFs(), "/fs.img", 64, 64, sched, intr, st, "fs")
	require.NoError(t, err)
	fs, err := filesys.Format(disk, 10, 16, intr, sched)
	require.NoError(t, err)

	console := diskio.NewConsole(&bytesReader{}, &bytesWriter{}, sched, intr, st)

	ctx := &syscall.Context{
		FS:      fs,
		Sched:   sched,
		Intr:    intr,
		Objects: objects.New(),
		Console: console,
		Stats:   st,
	}
	proc := process.New(nil, nil)
	main.Process = proc
	return ctx, main, syscall.NewFlatMemory(4096)
}

type bytesReader struct{}

func (*bytesReader) Read(p []byte) (int, error) { return 0, io.EOF }

type bytesWriter struct{ data []byte }

func (w *bytesWriter) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func setArgs(t *kthread.Thread, num, a0, a1, a2, a3 int64) {
	t.Regs.Int[machine.RegSyscallNumber] = num
	t.Regs.Int[machine.RegArg0] = a0
	t.Regs.Int[machine.RegArg1] = a1
	t.Regs.Int[machine.RegArg2] = a2
	t.Regs.Int[machine.RegArg3] = a3
}

func writeString(mem *syscall.FlatMemory, addr uint64, s string) {
	copy(mem.Bytes[addr:], append([]byte(s), 0))
}

func TestCreateOpenWriteReadCloseRoundTrip(t *testing.T) {
	ctx, main, mem := newCtx(t)
	proc := main.Process.(*process.Process)

	writeString(mem, 0, "/hello")
	setArgs(main, syscall.Create, 0, 32, 0, 0)
	require.NoError(t, syscall.Dispatch(ctx, proc, main, mem))
	require.EqualValues(t, 0, main.Regs.Int[machine.RegReturn])

	setArgs(main, syscall.Open, 0, 0, 0, 0)
	require.NoError(t, syscall.Dispatch(ctx, proc, main, mem))
	fd := main.Regs.Int[machine.RegReturn]
	require.GreaterOrEqual(t, fd, int64(3))

	copy(mem.Bytes[100:], []byte("hi there"))
	setArgs(main, syscall.Write, fd, 100, 8, 0)
	require.NoError(t, syscall.Dispatch(ctx, proc, main, mem))
	require.EqualValues(t, 8, main.Regs.Int[machine.RegReturn])

	setArgs(main, syscall.Seek, fd, 0, 0, 0)
	require.NoError(t, syscall.Dispatch(ctx, proc, main, mem))

	setArgs(main, syscall.Read, fd, 200, 8, 0)
	require.NoError(t, syscall.Dispatch(ctx, proc, main, mem))
	require.EqualValues(t, 8, main.Regs.Int[machine.RegReturn])
	require.Equal(t, "hi there", string(mem.Bytes[200:208]))

	setArgs(main, syscall.Close, fd, 0, 0, 0)
	require.NoError(t, syscall.Dispatch(ctx, proc, main, mem))
	require.EqualValues(t, 0, main.Regs.Int[machine.RegReturn])
}

func TestOpenMissingFileSetsLastError(t *testing.T) {
	ctx, main, mem := newCtx(t)
	proc := main.Process.(*process.Process)

	writeString(mem, 0, "/nope")
	setArgs(main, syscall.Open, 0, 0, 0, 0)
	require.NoError(t, syscall.Dispatch(ctx, proc, main, mem))
	require.EqualValues(t, -1, main.Regs.Int[machine.RegReturn])
	require.True(t, kernerr.Is(proc.LastError(), kernerr.InexistFile))
}

func TestExitReturnsExitSignal(t *testing.T) {
	ctx, main, mem := newCtx(t)
	proc := main.Process.(*process.Process)

	setArgs(main, syscall.Exit, 7, 0, 0, 0)
	err := syscall.Dispatch(ctx, proc, main, mem)
	require.Error(t, err)
	exit, ok := err.(*syscall.ExitSignal)
	require.True(t, ok)
	require.EqualValues(t, 7, exit.Code)
	require.False(t, exit.Halt)
}

func TestHaltReturnsHaltSignalAndCallsShutdown(t *testing.T) {
	ctx, main, mem := newCtx(t)
	proc := main.Process.(*process.Process)

	called := false
	ctx.Shutdown = func() { called = true }

	setArgs(main, syscall.Halt, 0, 0, 0, 0)
	err := syscall.Dispatch(ctx, proc, main, mem)
	require.Error(t, err)
	exit := err.(*syscall.ExitSignal)
	require.True(t, exit.Halt)
	require.True(t, called)
}

func TestMmapMapsFileAfterExecWithoutPanicking(t *testing.T) {
	ctx, main, mem := newCtx(t)
	proc := main.Process.(*process.Process)

	swapDisk, err := diskio.NewDisk(afero.NewMemMapFs(), "/swap.img", 64, 64, ctx.Sched, ctx.Intr, ctx.Stats, "swap")
	require.NoError(t, err)
	ctx.Phys = physmem.New(machine.NewMemory(8, 64), swap.New(swapDisk), ctx.Intr)

	as := addrspace.New(32, 64, ctx.Intr, ctx.Sched)
	// Simulate Exec having already run LoadELF + StackAllocate, so the
	// bump allocator is well past its initial position before Mmap runs.
	_, err = as.Alloc(4)
	require.NoError(t, err)
	proc.AddrSpace = as

	writeString(mem, 0, "/data")
	setArgs(main, syscall.Create, 0, 16, 0, 0)
	require.NoError(t, syscall.Dispatch(ctx, proc, main, mem))

	setArgs(main, syscall.Open, 0, 0, 0, 0)
	require.NoError(t, syscall.Dispatch(ctx, proc, main, mem))
	fd := main.Regs.Int[machine.RegReturn]

	setArgs(main, syscall.Mmap, fd, 0, 0, 0)
	require.NoError(t, syscall.Dispatch(ctx, proc, main, mem))
	require.GreaterOrEqual(t, main.Regs.Int[machine.RegReturn], int64(0))
}

func TestInvalidFileDescriptorFails(t *testing.T) {
	ctx, main, mem := newCtx(t)
	proc := main.Process.(*process.Process)

	setArgs(main, syscall.Read, 999, 0, 8, 0)
	require.NoError(t, syscall.Dispatch(ctx, proc, main, mem))
	require.EqualValues(t, -1, main.Regs.Int[machine.RegReturn])
	require.True(t, kernerr.Is(proc.LastError(), kernerr.InvalidFileID))
}
