// Package mutex implements spec.md §4.3's Lamport-style distributed mutual exclusion:
// a Request/RequestOk/Release broadcast protocol ordered by (clock, replica_id)
// priority, in two variants — a plain scalar Lamport clock trusting every peer's
// claimed timestamp, and a verifiable quorum-clock variant that rejects a Request
// whose timestamp isn't certified by f+1 external acknowledgements.
package mutex

import (
	"github.com/cerera/replicore/internal/cerera/clock"
	"github.com/cerera/replicore/internal/cerera/netcore"
)

// Variant selects how a Request's timestamp is trusted.
type Variant int

const (
	// VariantUntrusted accepts any peer's claimed scalar Lamport clock at face value.
	VariantUntrusted Variant = iota
	// VariantQuorum requires a Request's timestamp to carry a QuorumClock certified by
	// at least NumFaulty+1 signatures before it is admitted into the priority queue.
	VariantQuorum
)

// Request is one site's bid for the critical section, carrying either a plain scalar
// clock or a verifiable QuorumClock depending on the processor's Variant.
type Request struct {
	ReplicaID netcore.ReplicaID
	Scalar    clock.LamportClock
	Quorum    *clock.QuorumClock
}

// priority returns the scalar value Requests are ordered by, regardless of variant.
func (r Request) priority() uint64 {
	if r.Quorum != nil {
		return r.Quorum.Value
	}
	return uint64(r.Scalar)
}

// less implements spec.md's (clock, replica_id) tiebreak: lower scalar first, then
// lower replica id.
func (r Request) less(other Request) bool {
	if r.priority() != other.priority() {
		return r.priority() < other.priority()
	}
	return r.ReplicaID < other.ReplicaID
}

// Ack is a peer's acknowledgement of a Request, carrying its own advanced clock so the
// sender's Merge keeps the scalar variant's clock causally consistent.
type Ack struct {
	ReplicaID netcore.ReplicaID
	Scalar    clock.LamportClock
}

// Release tells peers a replica has left the critical section and its Request should
// be dropped from their queues.
type Release struct {
	ReplicaID netcore.ReplicaID
}

// WireMsg is the self-describing sum type carried between mutex processors.
type WireMsg struct {
	Request *Request
	Ack     *Ack
	Release *Release
}
