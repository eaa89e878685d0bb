package cops

import (
	"context"
	"time"

	"github.com/cerera/replicore/internal/cerera/eventbus"
	"github.com/cerera/replicore/internal/cerera/netcore"
	"github.com/cerera/replicore/internal/cerera/replmetrics"
	"github.com/cerera/replicore/internal/cerera/wsobserver"
)

// replicaEvent is the closed event set a Replica's mailbox accepts.
type replicaEvent interface{ isReplicaEvent() }

type evRecvGet struct{ Get Get }
type evRecvPut struct{ Put Put }
type evAssigned struct {
	put       Put
	version   OrdinaryVersion
	startedAt time.Time
}
type evRecvSync struct{ Sync SyncKey }
type evSnapshot struct{ reply chan map[KeyID]KeyState }

func (evRecvGet) isReplicaEvent()  {}
func (evRecvPut) isReplicaEvent()  {}
func (evAssigned) isReplicaEvent() {}
func (evRecvSync) isReplicaEvent() {}
func (evSnapshot) isReplicaEvent() {}

// KeyState is one key's installed value: the last write and the version it carries.
type KeyState struct {
	Value   []byte
	Version OrdinaryVersion
}

// Replica is spec.md §4.5's COPS store: Get/Put answered locally, writes assigned a
// version asynchronously by a VersionService and replicated to peers via SyncKey.
// Incoming Puts for a key queue FIFO and are handed to the version service one at a
// time — only the front of a key's queue is ever in flight, mirroring the Rust
// original's pending_puts/UpdateOk pop_front serialization — and incoming Syncs buffer
// until their declared dependencies are reflected key-by-key in this replica's store
// and no local Put for that same key is still pending.
type Replica struct {
	self ReplicaTag
	vs   VersionService

	clientNet netcore.UnicastNet[WireMsg]
	peerNet   netcore.AllNet[WireMsg]

	mailbox *eventbus.Mailbox[replicaEvent]

	store        map[KeyID]*KeyState
	pendingPuts  map[KeyID][]Put
	assigning    map[KeyID]bool
	pendingSyncs map[KeyID][]SyncKey

	observer *wsobserver.Manager
}

// AttachObserver wires an optional WebSocket fan-out: every PutOk is also published to
// connected observers, in addition to being unicast to the client.
func (r *Replica) AttachObserver(m *wsobserver.Manager) {
	r.observer = m
}

// NewReplica builds a Replica identified by self, answering clients over clientNet and
// replicating writes to peers over peerNet.
func NewReplica(self ReplicaTag, vs VersionService, clientNet netcore.UnicastNet[WireMsg], peerNet netcore.AllNet[WireMsg]) *Replica {
	return &Replica{
		self:         self,
		vs:           vs,
		clientNet:    clientNet,
		peerNet:      peerNet,
		mailbox:      eventbus.NewMailbox[replicaEvent](256),
		store:        make(map[KeyID]*KeyState),
		pendingPuts:  make(map[KeyID][]Put),
		assigning:    make(map[KeyID]bool),
		pendingSyncs: make(map[KeyID][]SyncKey),
	}
}

// Run drains the mailbox until ctx is cancelled.
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
	case evRecvGet:
		r.handleRecvGet(e.Get)
	case evRecvPut:
		r.handleRecvPut(e.Put)
	case evAssigned:
		r.handleAssigned(e)
	case evRecvSync:
		r.handleRecvSync(e.Sync)
	case evSnapshot:
		out := make(map[KeyID]KeyState, len(r.store))
		for k, v := range r.store {
			out[k] = *v
		}
		e.reply <- out
	}
}

// Snapshot blocks until the Run goroutine answers with a consistent, race-free copy of
// the store.
func (r *Replica) Snapshot() map[KeyID]KeyState {
	ch := make(chan map[KeyID]KeyState, 1)
	r.mailbox.Emit(evSnapshot{reply: ch})
	return <-ch
}

// RecvGet, RecvPut and RecvSync feed wire traffic into the replica.
func (r *Replica) RecvGet(g Get)      { r.mailbox.Emit(evRecvGet{Get: g}) }
func (r *Replica) RecvPut(p Put)      { r.mailbox.Emit(evRecvPut{Put: p}) }
func (r *Replica) RecvSync(s SyncKey) { r.mailbox.Emit(evRecvSync{Sync: s}) }

func (r *Replica) handleRecvGet(g Get) {
	ks, ok := r.store[g.Key]
	reply := GetOk{Key: g.Key, Seq: g.Seq, Version: NewOrdinaryVersion(), CorrelationID: g.CorrelationID}
	if ok {
		reply.Value = ks.Value
		reply.Version = ks.Version
	}
	r.clientNet.Send(g.ClientAddr, WireMsg{GetOk: &reply})
}

// localVersion looks up key's own installed version component, the per-key lookup
// DepSatisfied compares a dependency's matching component against.
func (r *Replica) localVersion(key KeyID) (Version, bool) {
	ks, ok := r.store[key]
	if !ok {
		return nil, false
	}
	return ks.Version, true
}

// handleRecvPut always enqueues p behind any other Puts already buffered for its key,
// then tries to advance that key's queue — never the whole store's causal state, so a
// write to key A never blocks on an unrelated key B.
func (r *Replica) handleRecvPut(p Put) {
	r.pendingPuts[p.Key] = append(r.pendingPuts[p.Key], p)
	r.advancePuts(p.Key)
}

// advancePuts hands the front of key's pending-put queue to the version service, if one
// isn't already in flight for key and the front's dependencies are satisfied. Only one
// assign per key is ever outstanding at a time, so two queued Puts for the same key can
// never both read the same stale prev.
func (r *Replica) advancePuts(key KeyID) {
	if r.assigning[key] {
		return
	}
	queue := r.pendingPuts[key]
	if len(queue) == 0 {
		r.reportPendingCounts()
		return
	}
	front := queue[0]
	if !DepSatisfied(front.Deps, r.localVersion) {
		r.reportPendingCounts()
		return
	}
	r.pendingPuts[key] = queue[1:]
	if len(r.pendingPuts[key]) == 0 {
		delete(r.pendingPuts, key)
	}
	r.assigning[key] = true
	r.assign(front)
}

func (r *Replica) assign(p Put) {
	prev := Version(NewOrdinaryVersion())
	if cur, ok := r.store[p.Key]; ok {
		prev = cur.Version
	}
	startedAt := time.Now()
	sender := r.mailbox.Sender()
	r.vs.Assign(p.Key, prev, []Version{p.Deps}, func(v Version) {
		sender.Emit(evAssigned{put: p, version: v.(OrdinaryVersion), startedAt: startedAt})
	})
}

func (r *Replica) handleAssigned(e evAssigned) {
	replmetrics.COPSAssignLatency.Observe(time.Since(e.startedAt).Seconds())
	r.assigning[e.put.Key] = false
	r.store[e.put.Key] = &KeyState{Value: e.put.Value, Version: e.version}
	reply := PutOk{Key: e.put.Key, Version: e.version, Seq: e.put.Seq, CorrelationID: e.put.CorrelationID}
	r.clientNet.Send(e.put.ClientAddr, WireMsg{PutOk: &reply})
	if r.observer != nil {
		r.observer.Publish(wsobserver.KindCOPSPutOk, reply)
	}
	r.peerNet.Broadcast(WireMsg{Sync: &SyncKey{
		Key: e.put.Key, Value: e.put.Value, Version: e.version, Deps: e.put.Deps, Origin: r.self,
	}})
	// This key's version just advanced, which can unblock the next queued Put for the
	// same key as well as Puts/Syncs on other keys that depend on this one.
	r.advancePuts(e.put.Key)
	r.drainPending()
}

func (r *Replica) handleRecvSync(s SyncKey) {
	r.pendingSyncs[s.Key] = append(r.pendingSyncs[s.Key], s)
	r.advanceSyncs(s.Key)
}

// advanceSyncs applies every pending SyncKey for key that's ready, in order, stopping at
// the first one that is either causally blocked or conflicts with a local Put still in
// flight for the same key — the Rust original's apply_sync guard against installing a
// remote version while a local write for that key hasn't landed yet.
func (r *Replica) advanceSyncs(key KeyID) {
	queue := r.pendingSyncs[key]
	i := 0
	for ; i < len(queue); i++ {
		s := queue[i]
		if len(r.pendingPuts[key]) > 0 || r.assigning[key] {
			break
		}
		if !DepSatisfied(s.Deps, r.localVersion) {
			break
		}
		r.applySync(s)
	}
	if i == len(queue) {
		delete(r.pendingSyncs, key)
	} else {
		r.pendingSyncs[key] = queue[i:]
	}
	r.reportPendingCounts()
}

// applySync installs s if it isn't stale — a version already reflected locally for the
// same key. Callers must already have checked that no local Put for s.Key is in flight.
func (r *Replica) applySync(s SyncKey) {
	if cur, ok := r.store[s.Key]; ok && Satisfies(cur.Version, s.Version) {
		replmetrics.COPSStaleSyncsDropped.Inc()
		return
	}
	r.store[s.Key] = &KeyState{Value: s.Value, Version: s.Version}
}

// reportPendingCounts publishes the current backlog sizes across every buffered key.
func (r *Replica) reportPendingCounts() {
	puts, syncs := 0, 0
	for _, p := range r.pendingPuts {
		puts += len(p)
	}
	for _, s := range r.pendingSyncs {
		syncs += len(s)
	}
	replmetrics.SetCOPSPendingCounts(puts, syncs)
}

// drainPending retries every key with a buffered Put or Sync queue: a version assigned
// or installed on one key can satisfy a dependency declared by a Put/Sync queued on a
// different key.
func (r *Replica) drainPending() {
	for key := range r.pendingPuts {
		r.advancePuts(key)
	}
	for key := range r.pendingSyncs {
		r.advanceSyncs(key)
	}
	r.reportPendingCounts()
}
