package pbft

import "github.com/cerera/replicore/internal/cerera/netcore"

// replicaEvent is the closed set of event variants a Replica's mailbox accepts — the Go
// analogue of the source's per-variant typed dispatch (spec.md §9): a private interface
// with a fixed set of implementing structs, drained via a single type switch in Run.
type replicaEvent interface{ isReplicaEvent() }

type evRecvRequest struct{ Request Request }

type evSignedPrePrepare struct {
	Ver   netcore.Verifiable[PrePrepare]
	Batch []Request
}

type evRecvPrePrepare struct {
	Ver   netcore.Verifiable[PrePrepare]
	Batch []Request
}

type evVerifiedPrePrepare struct {
	Ver   netcore.Verifiable[PrePrepare]
	Batch []Request
	OK    bool
}

type evSignedPrepare struct{ Ver netcore.Verifiable[Prepare] }

type evRecvPrepare struct{ Ver netcore.Verifiable[Prepare] }

type evVerifiedPrepare struct {
	Ver netcore.Verifiable[Prepare]
	OK  bool
}

type evSignedCommit struct{ Ver netcore.Verifiable[Commit] }

type evRecvCommit struct{ Ver netcore.Verifiable[Commit] }

type evVerifiedCommit struct {
	Ver netcore.Verifiable[Commit]
	OK  bool
}

func (evRecvRequest) isReplicaEvent()        {}
func (evSignedPrePrepare) isReplicaEvent()   {}
func (evRecvPrePrepare) isReplicaEvent()     {}
func (evVerifiedPrePrepare) isReplicaEvent() {}
func (evSignedPrepare) isReplicaEvent()      {}
func (evRecvPrepare) isReplicaEvent()        {}
func (evVerifiedPrepare) isReplicaEvent()    {}
func (evSignedCommit) isReplicaEvent()       {}
func (evRecvCommit) isReplicaEvent()         {}
func (evVerifiedCommit) isReplicaEvent()     {}
