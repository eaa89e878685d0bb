package clock

import (
	"testing"

	"github.com/cerera/replicore/internal/cerera/netcore"
	"github.com/stretchr/testify/require"
)

func ringsFor(n int) map[netcore.ReplicaID]*netcore.KeyRing {
	keys := make(map[netcore.ReplicaID][]byte, n)
	for i := 0; i < n; i++ {
		keys[netcore.ReplicaID(i)] = []byte{byte(i), 0xaa, 0xbb}
	}
	rings := make(map[netcore.ReplicaID]*netcore.KeyRing, n)
	for i := 0; i < n; i++ {
		rings[netcore.ReplicaID(i)] = netcore.NewKeyRing(netcore.ReplicaID(i), keys)
	}
	return rings
}

func TestLamportMergeAdvancesPastReceived(t *testing.T) {
	var c LamportClock = 5
	c = c.Merge(9)
	require.Equal(t, LamportClock(10), c)

	c = LamportClock(5).Merge(2)
	require.Equal(t, LamportClock(6), c)
}

func TestLessOrdersByClockThenID(t *testing.T) {
	require.True(t, Less(5, 2, 7, 1))
	require.True(t, Less(5, 2, 5, 3))
	require.False(t, Less(5, 3, 5, 2))
}

func TestQuorumClockVerifiesWithFPlusOneAcks(t *testing.T) {
	rings := ringsFor(4) // n=4, f=1
	client := NewLocalQuorumClient(rings, 1)

	qc := client.Announce(42)
	require.Len(t, qc.Acks, 2)

	verifier := func(d netcore.Digest, sig netcore.Signature, signer netcore.ReplicaID) bool {
		return rings[0].Verify(d, sig, signer)
	}
	require.True(t, VerifyQuorumClock(qc, 1, verifier))
}

func TestQuorumClockRejectsBelowQuorum(t *testing.T) {
	rings := ringsFor(4)
	qc := QuorumClock{Value: 7, Acks: []AnnounceOk{
		{Value: 7, Signer: 0, Sig: rings[0].Sign(digestOfValue(7))},
	}}
	verifier := func(d netcore.Digest, sig netcore.Signature, signer netcore.ReplicaID) bool {
		return rings[0].Verify(d, sig, signer)
	}
	require.False(t, VerifyQuorumClock(qc, 1, verifier))
}
