package objects_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nachgo/nachos/internal/kernerr"
	"github.com/nachgo/nachos/internal/objects"
)

func TestRegisterLookupRoundTrips(t *testing.T) {
	r := objects.New()
	id := r.Register(objects.KindFile, "some-file-handle")
	require.GreaterOrEqual(t, id, uint32(3))

	v, err := r.Lookup(id, objects.KindFile)
	require.NoError(t, err)
	require.Equal(t, "some-file-handle", v)
}

func TestLookupWrongKindFails(t *testing.T) {
	r := objects.New()
	id := r.Register(objects.KindLock, "a-lock")

	_, err := r.Lookup(id, objects.KindFile)
	require.True(t, kernerr.Is(err, kernerr.InvalidFileID))
}

func TestLookupUnknownIDFails(t *testing.T) {
	r := objects.New()
	_, err := r.Lookup(999, objects.KindThread)
	require.True(t, kernerr.Is(err, kernerr.InvalidThreadID))
}

func TestReleaseRemovesEntry(t *testing.T) {
	r := objects.New()
	id := r.Register(objects.KindSemaphore, "a-sem")
	r.Release(id)

	_, err := r.Lookup(id, objects.KindSemaphore)
	require.True(t, kernerr.Is(err, kernerr.InvalidSemaphoreID))
}

func TestIDsStartAtThree(t *testing.T) {
	r := objects.New()
	id := r.Register(objects.KindFile, "x")
	require.Equal(t, uint32(3), id)
}
