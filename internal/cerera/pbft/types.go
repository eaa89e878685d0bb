// Package pbft implements the normal-case three-phase (pre-prepare/prepare/commit)
// Byzantine-fault-tolerant replication protocol of spec.md §4.1-4.2: a replica state
// machine with crypto-worker-offloaded signing/verification, and a client that matches
// f+1 identical replies.
package pbft

import (
	"encoding/json"

	"github.com/cerera/replicore/internal/cerera/netcore"
)

// Application is the state machine PBFT replicates. Execute must be deterministic: the
// same op applied to the same prior state on every correct replica produces the same
// result.
type Application interface {
	Execute(op []byte) []byte
}

// Request is a client operation, spec.md's {client_id, client_addr, seq, op}. The pair
// (ClientID, Seq) is monotone per client. CorrelationID is a client-minted uuid carried
// through unchanged to the matching Reply, for tracing one Invoke call across a
// replica's logs independent of (ClientID, Seq) reuse across client restarts.
type Request struct {
	ClientID      netcore.ClientID
	ClientAddr    netcore.Addr
	Seq           uint32
	Op            []byte
	CorrelationID string
}

// PrePrepare assigns a batch of requests the next log slot in the current view.
type PrePrepare struct {
	ViewNum uint32
	OpNum   uint32
	Digest  netcore.Digest
}

// Prepare is a replica's vote that it has seen a matching PrePrepare.
type Prepare struct {
	ViewNum   uint32
	OpNum     uint32
	Digest    netcore.Digest
	ReplicaID netcore.ReplicaID
}

// Commit is a replica's vote that a slot has gathered enough matching prepares.
type Commit struct {
	ViewNum   uint32
	OpNum     uint32
	Digest    netcore.Digest
	ReplicaID netcore.ReplicaID
}

// Reply is what a replica returns to the client once a request executes.
type Reply struct {
	Seq           uint32
	Result        []byte
	ViewNum       uint32
	ReplicaID     netcore.ReplicaID
	CorrelationID string
}

// digestBatch computes the digest a PrePrepare references: the hash of the JSON
// encoding of the request batch it carries, per spec.md's "plaintext digest equals the
// hash of the request batch it references."
func digestBatch(batch []Request) netcore.Digest {
	parts := make([][]byte, 0, len(batch))
	for _, r := range batch {
		b, _ := json.Marshal(r)
		parts = append(parts, b)
	}
	return netcore.Hash(parts...)
}

func digestOfPrePrepare(p PrePrepare) netcore.Digest { return p.Digest }
func digestOfPrepare(p Prepare) netcore.Digest       { return p.Digest }
func digestOfCommit(c Commit) netcore.Digest         { return c.Digest }

// LogEntry is one PBFT log slot, spec.md's LogEntry[op_num]. At most one PrePrepare is
// ever installed; prepares/commits are never rewritten once the slot reaches
// Prepared/Committed-Local.
type LogEntry struct {
	ViewNum        uint32
	PrePrepare     *netcore.Verifiable[PrePrepare]
	Requests       []Request
	Prepares       *netcore.Quorum[netcore.Verifiable[Prepare]]
	Commits        *netcore.Quorum[netcore.Verifiable[Commit]]
	Prepared       bool
	CommittedLocal bool
}

func newLogEntry() *LogEntry {
	return &LogEntry{
		Prepares: netcore.NewQuorum[netcore.Verifiable[Prepare]](),
		Commits:  netcore.NewQuorum[netcore.Verifiable[Commit]](),
	}
}

// WireMsg is the self-describing sum type ToReplica<A> of spec.md §6, the body carried
// over a netcore.Frame between replicas (and, for Request, from client to replica).
type WireMsg struct {
	Request    *Request
	PrePrepare *netcore.Verifiable[PrePrepare]
	Batch      []Request
	Prepare    *netcore.Verifiable[Prepare]
	Commit     *netcore.Verifiable[Commit]
}
