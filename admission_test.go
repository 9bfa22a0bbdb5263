package proxyfleet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSocketAdmissionCeiling(t *testing.T) {
	a := NewSocketAdmission(2)
	require.True(t, a.TryAcquire())
	require.True(t, a.TryAcquire())
	require.False(t, a.TryAcquire())
	require.EqualValues(t, 2, a.Count())

	a.Release()
	require.True(t, a.TryAcquire())
}

func TestSocketAdmissionUnlimited(t *testing.T) {
	a := NewSocketAdmission(0)
	for i := 0; i < 100; i++ {
		require.True(t, a.TryAcquire())
	}
}
