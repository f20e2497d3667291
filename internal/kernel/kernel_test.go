package kernel_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/nachgo/nachos/internal/config"
	"github.com/nachgo/nachos/internal/kernel"
)

func newCfg() *config.Config {
	cfg := config.Defaults()
	cfg.NumPhysPages = 8
	cfg.MaxVirtPages = 16
	cfg.SectorSize = 64
	cfg.PageSize = 64
	cfg.NumDirEntries = 8
	cfg.MaxFileNameSize = 16
	cfg.FormatDisk = true
	cfg.MaxAddressSpaces = 2
	return cfg
}

func TestNewWiresEverythingAndFormatsFS(t *testing.T) {
	var out bytes.Buffer
	k, err := kernel.New(newCfg(), afero.NewMemMapFs(), &bytes.Buffer{}, &out, &out)
	require.NoError(t, err)
	require.NotNil(t, k.FS)
	require.NotNil(t, k.Phys)
	require.NotNil(t, k.Syscalls)
}

func TestRunStartupActionsCopiesInAndLists(t *testing.T) {
	host, err := os.CreateTemp(t.TempDir(), "host-*.bin")
	require.NoError(t, err)
	_, err = host.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, host.Close())

	cfg := newCfg()
	cfg.FilesToCopy = []config.FileCopy{{HostPath: host.Name(), GuestPath: "/g"}}
	cfg.ListDir = true

	var out bytes.Buffer
	k, err := kernel.New(cfg, afero.NewMemMapFs(), &bytes.Buffer{}, &out, &out)
	require.NoError(t, err)

	require.NoError(t, k.RunStartupActions())
	require.Contains(t, out.String(), "+--g")

	of, err := k.FS.Open("/g")
	require.NoError(t, err)
	buf := make([]byte, 11)
	n, err := of.ReadAt(buf, 11, 0)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(buf[:n]))
	require.NoError(t, k.FS.Close(of))
}
