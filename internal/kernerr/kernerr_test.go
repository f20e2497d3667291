package kernerr_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nachgo/nachos/internal/kernerr"
)

func TestErrorFormatsTemplateWithContext(t *testing.T) {
	err := kernerr.New(kernerr.InexistFile, "/g")
	require.Equal(t, "/g: no such file", err.Error())
}

func TestIsMatchesKindOnly(t *testing.T) {
	err := kernerr.New(kernerr.OutOfDisk, "x")
	require.True(t, kernerr.Is(err, kernerr.OutOfDisk))
	require.False(t, kernerr.Is(err, kernerr.OutOfMemory))
	require.False(t, kernerr.Is(nil, kernerr.OutOfDisk))
}

func TestUnknownKindFallsBackToGenericTemplate(t *testing.T) {
	err := kernerr.New(kernerr.Kind(999), "ctx")
	require.Equal(t, "ctx: unknown error", err.Error())
}
