package ivc

import (
	"testing"

	"github.com/cerera/replicore/internal/cerera/cops"
	"github.com/stretchr/testify/require"
)

func TestVersionSatisfiesCopsOrdering(t *testing.T) {
	zero := Zero()
	v1 := zero.Increment(cops.KeyID("x"))
	v2 := v1.Increment(cops.KeyID("x"))

	require.Equal(t, cops.OrderLess, zero.PartialCmp(v1))
	require.Equal(t, cops.OrderGreater, v2.PartialCmp(v1))
	require.Equal(t, cops.OrderEqual, v1.PartialCmp(v1))
}

func TestVersionMergeTakesComponentwiseMax(t *testing.T) {
	a := Zero().Increment(cops.KeyID("x")).Increment(cops.KeyID("x"))
	b := Zero().Increment(cops.KeyID("y"))

	merged := a.Merge(b).(Version)
	require.Equal(t, uint32(2), merged.Get(cops.KeyID("x")))
	require.Equal(t, uint32(1), merged.Get(cops.KeyID("y")))
}

func TestProofChangesAcrossIncrements(t *testing.T) {
	zero := Zero()
	v1 := zero.Increment(cops.KeyID("x")).(Version)
	v2 := v1.Increment(cops.KeyID("x")).(Version)

	require.NotEqual(t, zero.Proof(), v1.Proof())
	require.NotEqual(t, v1.Proof(), v2.Proof())
}
