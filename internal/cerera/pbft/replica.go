package pbft

import (
	"context"

	"github.com/cerera/replicore/internal/cerera/eventbus"
	"github.com/cerera/replicore/internal/cerera/logger"
	"github.com/cerera/replicore/internal/cerera/netcore"
	"github.com/cerera/replicore/internal/cerera/replmetrics"
	"github.com/cerera/replicore/internal/cerera/wsobserver"
)

// numConcurrentPrePrepare mirrors the source's NUM_CONCURRENT_PRE_PREPARE=1: a new
// batch is only closed once the previous one has committed, effectively serializing
// batching (spec.md §9, Open Questions).
const numConcurrentPrePrepare = 1

// maxBatchSize bounds how many pending requests close_batch drains at once.
const maxBatchSize = 100

// Config carries a replica's static parameters: N is the replica count (Self included,
// as its ordinal position), F the fault bound, and View the view determining the
// primary (view mod n).
type Config struct {
	N         int
	F         int
	Self      netcore.ReplicaID
	View      uint32
}

// Replica is spec.md §4.1's per-slot state machine: Empty -> PrePrepared -> Prepared ->
// Committed-Local -> Executed. It is single-threaded cooperative: Run drains its
// mailbox to quiescence and every exported Recv* method only ever enqueues an event,
// never touches state directly.
type Replica struct {
	cfg      Config
	app      Application
	peerNet  netcore.ReplicaNet[WireMsg]
	clientNet netcore.UnicastNet[Reply]
	crypto   *eventbus.CryptoWorker[*netcore.KeyRing]
	mailbox  *eventbus.Mailbox[replicaEvent]
	log      zapSugared

	entries   map[uint32]*LogEntry
	opNum     uint32
	commitNum uint32

	pendingRequests []Request
	repliesByClient map[netcore.ClientID]Reply

	pendingPrepareVerify map[uint32][]netcore.Verifiable[Prepare]
	pendingCommitVerify  map[uint32][]netcore.Verifiable[Commit]

	observer *wsobserver.Manager
}

// AttachObserver wires an optional WebSocket fan-out: every executed Reply is also
// published to connected observers, in addition to being unicast to the client.
func (r *Replica) AttachObserver(m *wsobserver.Manager) {
	r.observer = m
}

// zapSugared is a tiny alias so this file doesn't import zap directly in its exported
// surface; logger.Named already returns *zap.SugaredLogger.
type zapSugared = interface {
	Infow(msg string, kv ...any)
	Errorw(msg string, kv ...any)
	Debugw(msg string, kv ...any)
}

// NewReplica builds a replica. peerNet is the ReplicaNet used for pre-prepare/prepare/
// commit broadcast; clientNet delivers Reply to clients. A non-primary does not forward
// client Requests; it logs and drops them.
func NewReplica(cfg Config, app Application, peerNet netcore.ReplicaNet[WireMsg], clientNet netcore.UnicastNet[Reply], crypto *eventbus.CryptoWorker[*netcore.KeyRing]) *Replica {
	return &Replica{
		cfg:                  cfg,
		app:                  app,
		peerNet:              peerNet,
		clientNet:            clientNet,
		crypto:               crypto,
		mailbox:              eventbus.NewMailbox[replicaEvent](256),
		log:                  logger.Named("pbft.replica"),
		entries:              make(map[uint32]*LogEntry),
		repliesByClient:      make(map[netcore.ClientID]Reply),
		pendingPrepareVerify: make(map[uint32][]netcore.Verifiable[Prepare]),
		pendingCommitVerify:  make(map[uint32][]netcore.Verifiable[Commit]),
	}
}

func (r *Replica) isPrimary() bool {
	return r.primaryOf(r.cfg.View) == r.cfg.Self
}

func (r *Replica) primaryOf(view uint32) netcore.ReplicaID {
	return netcore.ReplicaID(view % uint32(r.cfg.N))
}

// Run drains the mailbox until ctx is cancelled, processing one event to completion
// before looking at the next.
func (r *Replica) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.mailbox.C():
			r.handle(ev)
		}
	}
}

func (r *Replica) handle(ev replicaEvent) {
	switch e := ev.(type) {
	case evRecvRequest:
		r.handleRecvRequest(e.Request)
	case evSignedPrePrepare:
		r.handleSignedPrePrepare(e)
	case evRecvPrePrepare:
		r.handleRecvPrePrepare(e)
	case evVerifiedPrePrepare:
		r.handleVerifiedPrePrepare(e)
	case evSignedPrepare:
		r.handleSignedPrepare(e)
	case evRecvPrepare:
		r.handleRecvPrepare(e)
	case evVerifiedPrepare:
		r.handleVerifiedPrepare(e)
	case evSignedCommit:
		r.handleSignedCommit(e)
	case evRecvCommit:
		r.handleRecvCommit(e)
	case evVerifiedCommit:
		r.handleVerifiedCommit(e)
	case evSnapshot:
		r.handleSnapshot(e)
	}
}

// --- exported entry points: net/client adapters call these to feed the replica ---

func (r *Replica) RecvRequest(req Request) { r.mailbox.Emit(evRecvRequest{Request: req}) }

func (r *Replica) RecvPrePrepare(ver netcore.Verifiable[PrePrepare], batch []Request) {
	r.mailbox.Emit(evRecvPrePrepare{Ver: ver, Batch: batch})
}

func (r *Replica) RecvPrepare(ver netcore.Verifiable[Prepare]) {
	r.mailbox.Emit(evRecvPrepare{Ver: ver})
}

func (r *Replica) RecvCommit(ver netcore.Verifiable[Commit]) {
	r.mailbox.Emit(evRecvCommit{Ver: ver})
}

// --- spec.md §4.1 operations ---

func (r *Replica) handleRecvRequest(req Request) {
	if cached, ok := r.repliesByClient[req.ClientID]; ok && cached.Seq >= req.Seq {
		if cached.Seq == req.Seq {
			replmetrics.PBFTDuplicateRequests.Inc()
			r.clientNet.Send(req.ClientAddr, cached)
		}
		return
	}
	if !r.isPrimary() {
		r.log.Debugw("non-primary received request, forward not implemented", "clientID", req.ClientID)
		return
	}
	r.pendingRequests = append(r.pendingRequests, req)
	if r.opNum < r.commitNum+numConcurrentPrePrepare {
		r.closeBatch()
	}
}

func (r *Replica) closeBatch() {
	if len(r.pendingRequests) == 0 {
		return
	}
	r.opNum++
	opNum := r.opNum
	n := len(r.pendingRequests)
	if n > maxBatchSize {
		n = maxBatchSize
	}
	batch := append([]Request(nil), r.pendingRequests[:n]...)
	r.pendingRequests = r.pendingRequests[n:]
	view := r.cfg.View
	sender := r.mailbox.Sender()
	r.crypto.Submit(func(ring *netcore.KeyRing) {
		digest := digestBatch(batch)
		ver := netcore.Sign(ring, PrePrepare{ViewNum: view, OpNum: opNum, Digest: digest}, digestOfPrePrepare)
		sender.Emit(evSignedPrePrepare{Ver: ver, Batch: batch})
	})
}

func (r *Replica) handleSignedPrePrepare(e evSignedPrePrepare) {
	entry := newLogEntry()
	entry.ViewNum = e.Ver.Plain.ViewNum
	entry.PrePrepare = &e.Ver
	entry.Requests = e.Batch
	r.entries[e.Ver.Plain.OpNum] = entry
	r.peerNet.Broadcast(WireMsg{PrePrepare: &e.Ver, Batch: e.Batch})
}

func (r *Replica) handleRecvPrePrepare(e evRecvPrePrepare) {
	if entry, ok := r.entries[e.Ver.Plain.OpNum]; ok && entry.PrePrepare != nil {
		return
	}
	ver := e.Ver
	batch := e.Batch
	primary := r.primaryOf(ver.Plain.ViewNum)
	sender := r.mailbox.Sender()
	r.crypto.Submit(func(ring *netcore.KeyRing) {
		ok := digestBatch(batch) == ver.Digest && ver.Signer == primary && ver.Verify(ring, digestOfPrePrepare)
		if ok {
			sender.Emit(evVerifiedPrePrepare{Ver: ver, Batch: batch, OK: true})
			return
		}
		replmetrics.RecordVerificationFailure("preprepare")
		// malformed: emit nothing, silent protocol drop (spec.md §7).
	})
}

func (r *Replica) handleVerifiedPrePrepare(e evVerifiedPrePrepare) {
	if !e.OK {
		return
	}
	opNum := e.Ver.Plain.OpNum
	entry, ok := r.entries[opNum]
	if ok && entry.PrePrepare != nil {
		return
	}
	if entry == nil {
		entry = newLogEntry()
		r.entries[opNum] = entry
	}
	entry.ViewNum = e.Ver.Plain.ViewNum
	entry.PrePrepare = &e.Ver
	entry.Requests = e.Batch
	digest := e.Ver.Digest
	entry.Prepares.Purge(func(v netcore.Verifiable[Prepare]) bool { return v.Plain.Digest == digest })
	entry.Commits.Purge(func(v netcore.Verifiable[Commit]) bool { return v.Plain.Digest == digest })

	self := r.cfg.Self
	view := e.Ver.Plain.ViewNum
	sender := r.mailbox.Sender()
	r.crypto.Submit(func(ring *netcore.KeyRing) {
		ver := netcore.Sign(ring, Prepare{ViewNum: view, OpNum: opNum, Digest: digest, ReplicaID: self}, digestOfPrepare)
		sender.Emit(evSignedPrepare{Ver: ver})
	})
}

func (r *Replica) handleSignedPrepare(e evSignedPrepare) {
	r.peerNet.Broadcast(WireMsg{Prepare: &e.Ver})
	r.insertPrepare(e.Ver)
}

func (r *Replica) handleRecvPrepare(e evRecvPrepare) {
	opNum := e.Ver.Plain.OpNum
	if q, inFlight := r.pendingPrepareVerify[opNum]; inFlight {
		r.pendingPrepareVerify[opNum] = append(q, e.Ver)
		return
	}
	r.pendingPrepareVerify[opNum] = []netcore.Verifiable[Prepare]{}
	r.submitVerifyPrepare(e.Ver)
}

func (r *Replica) submitVerifyPrepare(ver netcore.Verifiable[Prepare]) {
	sender := r.mailbox.Sender()
	r.crypto.Submit(func(ring *netcore.KeyRing) {
		ok := ver.Verify(ring, digestOfPrepare)
		if !ok {
			replmetrics.RecordVerificationFailure("prepare")
		}
		sender.Emit(evVerifiedPrepare{Ver: ver, OK: ok})
	})
}

func (r *Replica) handleVerifiedPrepare(e evVerifiedPrepare) {
	if e.OK {
		r.insertPrepare(e.Ver)
	}
	opNum := e.Ver.Plain.OpNum
	queue := r.pendingPrepareVerify[opNum]
	if len(queue) > 0 {
		next := queue[0]
		r.pendingPrepareVerify[opNum] = queue[1:]
		r.submitVerifyPrepare(next)
	} else {
		delete(r.pendingPrepareVerify, opNum)
	}
}

func (r *Replica) insertPrepare(ver netcore.Verifiable[Prepare]) {
	opNum := ver.Plain.OpNum
	entry, ok := r.entries[opNum]
	if !ok {
		entry = newLogEntry()
		r.entries[opNum] = entry
	}
	entry.Prepares.Insert(ver.Plain.ReplicaID, ver)
	r.maybeAdvanceToPrepared(opNum, entry)
}

func (r *Replica) maybeAdvanceToPrepared(opNum uint32, entry *LogEntry) {
	if entry.Prepared || entry.PrePrepare == nil {
		return
	}
	count := 0
	for _, v := range entry.Prepares.Entries() {
		if v.Digest == entry.PrePrepare.Digest {
			count++
		}
	}
	replmetrics.SetPBFTQuorumSizes(count+1, entry.Commits.Size())
	if count+1 < r.cfg.N-r.cfg.F {
		return
	}
	entry.Prepared = true
	self := r.cfg.Self
	view := entry.ViewNum
	digest := entry.PrePrepare.Digest
	sender := r.mailbox.Sender()
	r.crypto.Submit(func(ring *netcore.KeyRing) {
		ver := netcore.Sign(ring, Commit{ViewNum: view, OpNum: opNum, Digest: digest, ReplicaID: self}, digestOfCommit)
		sender.Emit(evSignedCommit{Ver: ver})
	})
}

func (r *Replica) handleSignedCommit(e evSignedCommit) {
	r.peerNet.Broadcast(WireMsg{Commit: &e.Ver})
	r.insertCommit(e.Ver)
}

func (r *Replica) handleRecvCommit(e evRecvCommit) {
	opNum := e.Ver.Plain.OpNum
	if q, inFlight := r.pendingCommitVerify[opNum]; inFlight {
		r.pendingCommitVerify[opNum] = append(q, e.Ver)
		return
	}
	r.pendingCommitVerify[opNum] = []netcore.Verifiable[Commit]{}
	r.submitVerifyCommit(e.Ver)
}

func (r *Replica) submitVerifyCommit(ver netcore.Verifiable[Commit]) {
	sender := r.mailbox.Sender()
	r.crypto.Submit(func(ring *netcore.KeyRing) {
		ok := ver.Verify(ring, digestOfCommit)
		if !ok {
			replmetrics.RecordVerificationFailure("commit")
		}
		sender.Emit(evVerifiedCommit{Ver: ver, OK: ok})
	})
}

func (r *Replica) handleVerifiedCommit(e evVerifiedCommit) {
	if e.OK {
		r.insertCommit(e.Ver)
	}
	opNum := e.Ver.Plain.OpNum
	queue := r.pendingCommitVerify[opNum]
	if len(queue) > 0 {
		next := queue[0]
		r.pendingCommitVerify[opNum] = queue[1:]
		r.submitVerifyCommit(next)
	} else {
		delete(r.pendingCommitVerify, opNum)
	}
}

func (r *Replica) insertCommit(ver netcore.Verifiable[Commit]) {
	opNum := ver.Plain.OpNum
	entry, ok := r.entries[opNum]
	if !ok {
		entry = newLogEntry()
		r.entries[opNum] = entry
	}
	entry.Commits.Insert(ver.Plain.ReplicaID, ver)
	r.maybeAdvanceToCommittedLocal(entry)
}

func (r *Replica) maybeAdvanceToCommittedLocal(entry *LogEntry) {
	if entry.CommittedLocal || !entry.Prepared || entry.PrePrepare == nil {
		return
	}
	count := 0
	for _, v := range entry.Commits.Entries() {
		if v.Digest == entry.PrePrepare.Digest {
			count++
		}
	}
	replmetrics.SetPBFTQuorumSizes(entry.Prepares.Size(), count)
	if count < r.cfg.N-r.cfg.F {
		return
	}
	entry.CommittedLocal = true
	r.advanceCommitted()
}

func (r *Replica) advanceCommitted() {
	for {
		next := r.commitNum + 1
		entry, ok := r.entries[next]
		if !ok || !entry.CommittedLocal {
			break
		}
		r.commitNum = next
		replmetrics.PBFTCommitNum.Set(float64(r.commitNum))
		replmetrics.PBFTOpNum.Set(float64(r.opNum))
		for _, req := range entry.Requests {
			result := r.app.Execute(req.Op)
			replmetrics.PBFTRequestsExecuted.Inc()
			reply := Reply{Seq: req.Seq, Result: result, ViewNum: entry.ViewNum, ReplicaID: r.cfg.Self, CorrelationID: req.CorrelationID}
			if cached, ok := r.repliesByClient[req.ClientID]; !ok || reply.Seq > cached.Seq {
				r.repliesByClient[req.ClientID] = reply
			}
			r.clientNet.Send(req.ClientAddr, reply)
			if r.observer != nil {
				r.observer.Publish(wsobserver.KindPBFTReply, reply)
			}
		}
		r.log.Infow("slot committed", "opNum", next)
		if r.isPrimary() && r.opNum < r.commitNum+numConcurrentPrePrepare {
			r.closeBatch()
		}
	}
}

// --- testability: synchronous snapshot, answered from the Run goroutine ---

type evSnapshot struct{ reply chan Snapshot }

func (evSnapshot) isReplicaEvent() {}

func (r *Replica) handleSnapshot(e evSnapshot) {
	out := Snapshot{CommitNum: r.commitNum, OpNum: r.opNum, Entries: make(map[uint32]LogEntrySnapshot, len(r.entries))}
	for opNum, entry := range r.entries {
		out.Entries[opNum] = LogEntrySnapshot{
			Requests:       entry.Requests,
			PrepareCount:   entry.Prepares.Size(),
			CommitCount:    entry.Commits.Size(),
			Prepared:       entry.Prepared,
			CommittedLocal: entry.CommittedLocal,
		}
	}
	e.reply <- out
}

// LogEntrySnapshot is a read-only copy of one slot's observable state.
type LogEntrySnapshot struct {
	Requests       []Request
	PrepareCount   int
	CommitCount    int
	Prepared       bool
	CommittedLocal bool
}

// Snapshot is a point-in-time, race-free view of a replica's log and commit position.
type Snapshot struct {
	CommitNum uint32
	OpNum     uint32
	Entries   map[uint32]LogEntrySnapshot
}

// Snapshot blocks until the Run goroutine answers with a consistent view of state —
// the only way to read a Replica's internals from outside its own goroutine.
func (r *Replica) Snapshot() Snapshot {
	ch := make(chan Snapshot, 1)
	r.mailbox.Emit(evSnapshot{reply: ch})
	return <-ch
}

