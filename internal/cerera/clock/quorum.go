package clock

import "github.com/cerera/replicore/internal/cerera/netcore"

// Announce is the request a participant sends to certify a new scalar clock value.
type Announce struct {
	Value uint64
}

// AnnounceOk is one peer's signed acknowledgement of an Announce, over the digest of
// its Value.
type AnnounceOk struct {
	Value  uint64
	Signer netcore.ReplicaID
	Sig    netcore.Signature
}

// QuorumClock is spec.md's verifiable clock: a scalar value plus the (f+1)-quorum of
// Announce signatures that certify it.
type QuorumClock struct {
	Value uint64
	Acks  []AnnounceOk
}

func digestOfValue(value uint64) netcore.Digest {
	b := []byte{
		byte(value >> 56), byte(value >> 48), byte(value >> 40), byte(value >> 32),
		byte(value >> 24), byte(value >> 16), byte(value >> 8), byte(value),
	}
	return netcore.Hash(b)
}

// QuorumClient is the external collaborator that certifies scalar clock values into
// QuorumClocks (spec.md §9, "Open questions": kept abstract per the source). Concrete
// deployments drive an actual peer round trip; LocalQuorumClient below is the
// in-process reference used by tests.
type QuorumClient interface {
	Announce(value uint64) QuorumClock
}

// LocalQuorumClient is a reference QuorumClient for single-process tests and examples:
// it holds every participant's KeyRing directly and certifies a value by collecting
// signatures from numFaulty+1 of them, skipping the network round trip a real
// deployment would perform.
type LocalQuorumClient struct {
	rings      map[netcore.ReplicaID]*netcore.KeyRing
	numFaulty  int
	quorumSize int
}

// NewLocalQuorumClient builds a client over the given per-replica keyrings. Its quorum
// size is always numFaulty+1.
func NewLocalQuorumClient(rings map[netcore.ReplicaID]*netcore.KeyRing, numFaulty int) *LocalQuorumClient {
	return &LocalQuorumClient{rings: rings, numFaulty: numFaulty, quorumSize: numFaulty + 1}
}

// Announce certifies value with signatures from the first quorumSize known replicas.
func (c *LocalQuorumClient) Announce(value uint64) QuorumClock {
	digest := digestOfValue(value)
	qc := QuorumClock{Value: value}
	for id, ring := range c.rings {
		if len(qc.Acks) >= c.quorumSize {
			break
		}
		qc.Acks = append(qc.Acks, AnnounceOk{
			Value:  value,
			Signer: id,
			Sig:    ring.Sign(digest),
		})
	}
	return qc
}

// VerifyQuorumClock checks that qc carries at least numFaulty+1 distinct, valid
// Announce signatures over qc.Value, using verifier to check each one. This is
// spec.md's "VerifyQuorumClock(num_faulty), which requires f+1 matching
// Announce-acknowledgements from the external QuorumClient."
func VerifyQuorumClock(qc QuorumClock, numFaulty int, verifier func(netcore.Digest, netcore.Signature, netcore.ReplicaID) bool) bool {
	need := numFaulty + 1
	digest := digestOfValue(qc.Value)
	seen := make(map[netcore.ReplicaID]bool, len(qc.Acks))
	valid := 0
	for _, ack := range qc.Acks {
		if ack.Value != qc.Value || seen[ack.Signer] {
			continue
		}
		seen[ack.Signer] = true
		if verifier(digest, ack.Sig, ack.Signer) {
			valid++
		}
	}
	return valid >= need
}
