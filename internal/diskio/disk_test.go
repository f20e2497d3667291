package diskio_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/nachgo/nachos/internal/diskio"
	"github.com/nachgo/nachos/internal/kthread"
	"github.com/nachgo/nachos/internal/machine"
	"github.com/nachgo/nachos/internal/stats"
)

func newDisk(t *testing.T, numSectors, sectorSize uint32) (*diskio.Disk, *kthread.Scheduler) {
	intr := machine.NewInterrupts()
	sched := kthread.NewScheduler(intr)
	main := sched.NewThread("main")
	sched.Bootstrap(main)

	fs := afero.NewMemMapFs()
	st := stats.New()
	d, err := diskio.NewDisk(fs, "/disk.img", numSectors, sectorSize, sched, intr, st, "test")
	require.NoError(t, err)
	return d, sched
}

func TestDiskWriteThenReadRoundTrips(t *testing.T) {
	d, _ := newDisk(t, 8, 32)

	want := bytes.Repeat([]byte{0xAB}, 32)
	require.NoError(t, d.WriteSector(3, want))

	got := make([]byte, 32)
	require.NoError(t, d.ReadSector(3, got))
	require.Equal(t, want, got)
}

func TestDiskUnwrittenSectorReadsZero(t *testing.T) {
	d, _ := newDisk(t, 4, 16)

	got := make([]byte, 16)
	require.NoError(t, d.ReadSector(0, got))
	require.Equal(t, make([]byte, 16), got)
}

func TestDiskOutOfRangeSectorErrors(t *testing.T) {
	d, _ := newDisk(t, 4, 16)
	buf := make([]byte, 16)
	require.Error(t, d.ReadSector(4, buf))
}

func TestDiskFormatZeroesAllSectors(t *testing.T) {
	d, _ := newDisk(t, 4, 16)

	full := bytes.Repeat([]byte{0xFF}, 16)
	require.NoError(t, d.WriteSector(1, full))
	require.NoError(t, d.Format())

	got := make([]byte, 16)
	require.NoError(t, d.ReadSector(1, got))
	require.Equal(t, make([]byte, 16), got)
}

func TestConsoleRoundTrips(t *testing.T) {
	intr := machine.NewInterrupts()
	sched := kthread.NewScheduler(intr)
	main := sched.NewThread("main")
	sched.Bootstrap(main)
	st := stats.New()

	in := strings.NewReader("hi")
	var out bytes.Buffer
	c := diskio.NewConsole(in, &out, sched, intr, st)

	require.NoError(t, c.PutChar('x'))
	require.Equal(t, "x", out.String())

	b, err := c.GetChar()
	require.NoError(t, err)
	require.Equal(t, byte('h'), b)
}
