package config_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nachgo/nachos/internal/config"
)

func TestLoadParsesKnownKeys(t *testing.T) {
	src := `
# a comment
ProcessorFrequency = 4
NumPhysPages = 16
MaxVirtPages = 32
SectorSize = 256
PageSize = 256
UserStackSize = 2048
NumDirEntries = 20
FormatDisk = 1
PrintStat = true
FileToCopy = host.bin /g
FileToCopy = host2.bin /h
UseACIA = BusyWaiting
`
	cfg, err := config.Load(strings.NewReader(src))
	require.NoError(t, err)
	require.EqualValues(t, 4, cfg.ProcessorFrequency)
	require.EqualValues(t, 16, cfg.NumPhysPages)
	require.EqualValues(t, 256, cfg.SectorSize)
	require.True(t, cfg.FormatDisk)
	require.True(t, cfg.PrintStat)
	require.Len(t, cfg.FilesToCopy, 2)
	require.Equal(t, "host.bin", cfg.FilesToCopy[0].HostPath)
	require.Equal(t, "/g", cfg.FilesToCopy[0].GuestPath)
	require.Equal(t, config.ACIABusyWaiting, cfg.UseACIA)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	_, err := config.Load(strings.NewReader("NotARealKey = 1\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 1")
	require.Contains(t, err.Error(), "NotARealKey")
}

func TestPageSizeMismatchCoercesToSectorSize(t *testing.T) {
	cfg, err := config.Load(strings.NewReader("SectorSize = 256\nPageSize = 128\n"))
	require.NoError(t, err)
	require.EqualValues(t, 256, cfg.PageSize)
	require.EqualValues(t, 256, cfg.SectorSize)
}

func TestDefaultsAppliedWhenFileEmpty(t *testing.T) {
	cfg, err := config.Load(strings.NewReader(""))
	require.NoError(t, err)
	require.EqualValues(t, 128, cfg.SectorSize)
	require.EqualValues(t, 32, cfg.MaxAddressSpaces)
}

func TestFileToCopyRequiresTwoFields(t *testing.T) {
	_, err := config.Load(strings.NewReader("FileToCopy = onlyonefield\n"))
	require.Error(t, err)
}
