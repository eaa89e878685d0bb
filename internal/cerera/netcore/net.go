package netcore

// UnicastNet addresses a single message to one endpoint. It is the contract every
// client-to-replica and replica-to-client send goes through (spec.md §6
// SendMessage<A, M>).
type UnicastNet[M any] interface {
	Send(to Addr, msg M)
}

// AllNet broadcasts a message to every peer in the configured set. Whether the sender
// loops back to itself is a property of the concrete implementation, not of the
// interface. The PBFT and mutex TCPReplicaNet implementations both exclude self; the
// mutex processor puts its own Request into its own queue directly instead of
// receiving it back.
type AllNet[M any] interface {
	Broadcast(msg M)
}

// IndexNet addresses peers by ordinal position in the replica set rather than by Addr,
// which is how the mutex processor sends its Ack back to the requesting site. The TCP
// implementations skip the index matching the net's own position.
type IndexNet[M any] interface {
	SendIndex(i int, msg M)
	Len() int
}

// ReplicaNet bundles what a PBFT/mutex replica needs to talk to its peers: unicast by
// address, index-addressed unicast, and all-broadcast. PBFT replies to clients go
// through a separate UnicastNet, not this one.
type ReplicaNet[M any] interface {
	UnicastNet[M]
	AllNet[M]
	IndexNet[M]
}

// ClientNet is what a client needs: unicast to a chosen replica and broadcast-resend to
// all of them.
type ClientNet[M any] interface {
	UnicastNet[M]
	AllNet[M]
}
