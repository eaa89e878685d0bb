// Package netcore holds the plumbing shared by the replication engines: addressing,
// the net abstractions they're built against, and the generic quorum collection used
// by PBFT's prepare/commit tallies.
package netcore

// Addr is an opaque, comparable, clonable endpoint identifier: a bare string such as
// "host:port" or a symbolic test identity ("r0", "c1"). Being a defined string type it
// is usable directly as a map key and copies by value, satisfying spec.md's
// "comparable, clonable" requirement without an interface indirection.
type Addr string

// ReplicaID identifies a PBFT/mutex replica by its index in the configured peer set,
// consistent with spec.md's replica_id: u8 field on Prepare/Commit.
type ReplicaID uint8

// ClientID identifies a client session. Paired with a per-client sequence number it
// gives the monotone (client_id, seq) ordering spec.md requires.
type ClientID uint32
