package cops

import "github.com/cerera/replicore/internal/cerera/netcore"

// Get requests a key's current value and version. CorrelationID is a client-minted uuid
// carried through unchanged to the matching GetOk, for tracing one invocation across a
// replica's logs.
type Get struct {
	Key           KeyID
	ClientID      netcore.ClientID
	ClientAddr    netcore.Addr
	Seq           uint32
	CorrelationID string
}

// GetOk answers a Get with the value and the version it was last written at.
type GetOk struct {
	Key           KeyID
	Value         []byte
	Version       OrdinaryVersion
	Seq           uint32
	CorrelationID string
}

// Put writes a key, under the causal dependencies (the client's current context) the
// write must not be visible before.
type Put struct {
	Key           KeyID
	Value         []byte
	Deps          OrdinaryVersion
	ClientID      netcore.ClientID
	ClientAddr    netcore.Addr
	Seq           uint32
	CorrelationID string
}

// PutOk confirms a Put and reports the version the version service assigned it.
type PutOk struct {
	Key           KeyID
	Version       OrdinaryVersion
	Seq           uint32
	CorrelationID string
}

// SyncKey is the replication message a key's assigning replica broadcasts to every
// other replica once a write has its version: the write, its deps, and who assigned
// it.
type SyncKey struct {
	Key     KeyID
	Value   []byte
	Version OrdinaryVersion
	Deps    OrdinaryVersion
	Origin  ReplicaTag
}

// WireMsg is the self-describing sum type carried between cops clients and replicas,
// and between replicas themselves.
type WireMsg struct {
	Get   *Get
	GetOk *GetOk
	Put   *Put
	PutOk *PutOk
	Sync  *SyncKey
}
