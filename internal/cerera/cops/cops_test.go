package cops

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cerera/replicore/internal/cerera/netcore"
	"github.com/stretchr/testify/require"
)

// hub wires two Replicas and one Client together in-process.
type hub struct {
	mu       sync.Mutex
	replicas map[netcore.Addr]*Replica
	clients  map[netcore.Addr]*Client
}

func newHub() *hub {
	return &hub{replicas: make(map[netcore.Addr]*Replica), clients: make(map[netcore.Addr]*Client)}
}

// clientFacingNet is what a Replica sends Get/PutOk replies through.
type clientFacingNet struct{ h *hub }

func (n clientFacingNet) Send(to netcore.Addr, msg WireMsg) {
	n.h.mu.Lock()
	c, ok := n.h.clients[to]
	n.h.mu.Unlock()
	if !ok {
		return
	}
	switch {
	case msg.GetOk != nil:
		c.RecvGetOk(*msg.GetOk)
	case msg.PutOk != nil:
		c.RecvPutOk(*msg.PutOk)
	}
}

// peerFacingNet is how a Replica broadcasts SyncKey to every other replica.
type peerFacingNet struct {
	h    *hub
	self netcore.Addr
}

func (n peerFacingNet) Broadcast(msg WireMsg) {
	n.h.mu.Lock()
	targets := make([]*Replica, 0, len(n.h.replicas))
	for addr, r := range n.h.replicas {
		if addr == n.self {
			continue
		}
		targets = append(targets, r)
	}
	n.h.mu.Unlock()
	for _, r := range targets {
		if msg.Sync != nil {
			r.RecvSync(*msg.Sync)
		}
	}
}

// clientNet is how a Client sends Get/Put to its replica.
type clientNet struct{ h *hub }

func (n clientNet) Send(to netcore.Addr, msg WireMsg) {
	n.h.mu.Lock()
	r, ok := n.h.replicas[to]
	n.h.mu.Unlock()
	if !ok {
		return
	}
	switch {
	case msg.Get != nil:
		r.RecvGet(*msg.Get)
	case msg.Put != nil:
		r.RecvPut(*msg.Put)
	}
}

func newTwoReplicaCluster(t *testing.T) (*hub, *Replica, *Replica, context.CancelFunc) {
	h := newHub()
	r0addr, r1addr := netcore.Addr("r0"), netcore.Addr("r1")
	r0 := NewReplica(0, OrdinaryVersionService{}, clientFacingNet{h: h}, peerFacingNet{h: h, self: r0addr})
	r1 := NewReplica(1, OrdinaryVersionService{}, clientFacingNet{h: h}, peerFacingNet{h: h, self: r1addr})
	h.replicas[r0addr] = r0
	h.replicas[r1addr] = r1

	ctx, cancel := context.WithCancel(context.Background())
	go r0.Run(ctx)
	go r1.Run(ctx)
	t.Cleanup(cancel)
	return h, r0, r1, cancel
}

func TestUpdateThenReadOwnWrite(t *testing.T) {
	h, _, _, _ := newTwoReplicaCluster(t)
	client := NewClient(netcore.ClientID(1), netcore.Addr("c0"), netcore.Addr("r0"), clientNet{h: h})
	h.clients[netcore.Addr("c0")] = client

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	reqCtx, reqCancel := context.WithTimeout(context.Background(), time.Second)
	defer reqCancel()
	require.NoError(t, client.Update(reqCtx, KeyID("x"), []byte("v1")))

	readCtx, readCancel := context.WithTimeout(context.Background(), time.Second)
	defer readCancel()
	val, err := client.Read(readCtx, KeyID("x"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(val))
}

func TestWriteReplicatesToOtherReplica(t *testing.T) {
	h, _, r1, _ := newTwoReplicaCluster(t)
	client := NewClient(netcore.ClientID(2), netcore.Addr("c1"), netcore.Addr("r0"), clientNet{h: h})
	h.clients[netcore.Addr("c1")] = client

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	reqCtx, reqCancel := context.WithTimeout(context.Background(), time.Second)
	defer reqCancel()
	require.NoError(t, client.Update(reqCtx, KeyID("y"), []byte("v2")))

	require.Eventually(t, func() bool {
		snap := r1.Snapshot()
		ks, ok := snap[KeyID("y")]
		return ok && string(ks.Value) == "v2"
	}, time.Second, 5*time.Millisecond)
}

func TestOrdinaryVersionPartialCmp(t *testing.T) {
	a := OrdinaryVersion{"x": 1, "y": 2}
	b := OrdinaryVersion{"x": 1, "y": 3}
	require.Equal(t, OrderLess, a.PartialCmp(b))
	require.Equal(t, OrderGreater, b.PartialCmp(a))

	c := OrdinaryVersion{"x": 2, "y": 1}
	require.Equal(t, OrderConcurrent, a.PartialCmp(c))
	require.Equal(t, OrderConcurrent, c.PartialCmp(a))

	require.Equal(t, OrderEqual, a.PartialCmp(a))
}

// TestDepCmpIsPerKey checks that a dependency on one key's counter is satisfied
// independently of another key's state entirely — the per-key causal check
// handleRecvPut/handleRecvSync rely on, as opposed to a global vector comparison.
func TestDepCmpIsPerKey(t *testing.T) {
	dep := OrdinaryVersion{"x": 1}
	aheadOnX := OrdinaryVersion{"x": 2, "y": 0}
	behindOnX := OrdinaryVersion{"x": 0, "y": 99}

	require.Equal(t, OrderLess, dep.DepCmp(aheadOnX, "x"))
	require.Equal(t, OrderGreater, dep.DepCmp(behindOnX, "x"))
}

func TestDepSatisfiedChecksOnlyDependencyKeys(t *testing.T) {
	dep := OrdinaryVersion{"x": 1}
	lookup := func(k KeyID) (Version, bool) {
		if k == KeyID("x") {
			return OrdinaryVersion{"x": 1}, true
		}
		return nil, false
	}
	require.True(t, DepSatisfied(dep, lookup))

	behind := func(k KeyID) (Version, bool) {
		return OrdinaryVersion{}, true
	}
	require.False(t, DepSatisfied(dep, behind))
}

// asyncVersionService answers off-goroutine after a short delay, so two Puts queued for
// the same key in the same mailbox drain would race if assign weren't serialized per
// key: both would read the same stale prev before either callback lands.
type asyncVersionService struct{}

func (asyncVersionService) Assign(key KeyID, prev Version, deps []Version, done func(Version)) {
	merged := prev
	for _, d := range deps {
		merged = merged.Merge(d)
	}
	go func() {
		time.Sleep(5 * time.Millisecond)
		done(merged.Increment(key))
	}()
}

// Two Puts for the same key, submitted back to back, must be assigned strictly
// increasing versions rather than both reading the same stale prev and colliding.
func TestConcurrentPutsToSameKeySerializeAssign(t *testing.T) {
	h := newHub()
	raddr := netcore.Addr("r0")
	r := NewReplica(0, asyncVersionService{}, clientFacingNet{h: h}, peerFacingNet{h: h, self: raddr})
	h.replicas[raddr] = r

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.RecvPut(Put{Key: KeyID("k"), Value: []byte("v1"), Deps: NewOrdinaryVersion(), Seq: 1})
	r.RecvPut(Put{Key: KeyID("k"), Value: []byte("v2"), Deps: NewOrdinaryVersion(), Seq: 2})

	require.Eventually(t, func() bool {
		snap := r.Snapshot()
		ks, ok := snap[KeyID("k")]
		return ok && string(ks.Value) == "v2" && ks.Version.Get(KeyID("k")) == 2
	}, time.Second, 5*time.Millisecond)
}

// blockingVersionService never completes an Assign until release is closed, letting a
// test pin a replica mid-assign to exercise the conflict guard deterministically.
type blockingVersionService struct{ release chan struct{} }

func (s blockingVersionService) Assign(key KeyID, prev Version, deps []Version, done func(Version)) {
	merged := prev
	for _, d := range deps {
		merged = merged.Merge(d)
	}
	go func() {
		<-s.release
		done(merged.Increment(key))
	}()
}

// A SyncKey for a key with a Put still in flight must not be installed until that Put
// resolves — the conflict guard applySync's callers enforce, mirroring the Rust
// original's refusal to apply a sync over a pending local write.
func TestSyncBuffersWhileLocalPutInFlight(t *testing.T) {
	h := newHub()
	raddr := netcore.Addr("r0")
	vs := blockingVersionService{release: make(chan struct{})}
	r := NewReplica(0, vs, clientFacingNet{h: h}, peerFacingNet{h: h, self: raddr})
	h.replicas[raddr] = r

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.RecvPut(Put{Key: KeyID("k"), Value: []byte("local"), Deps: NewOrdinaryVersion(), Seq: 1})
	r.RecvSync(SyncKey{Key: KeyID("k"), Value: []byte("remote"), Version: OrdinaryVersion{"k": 5}, Deps: NewOrdinaryVersion(), Origin: 1})

	// The mailbox is single-threaded and processes RecvPut, RecvSync and this Snapshot
	// strictly in order; since the Put's assign goroutine is still blocked on release,
	// the Sync must still be buffered, not installed, by the time Snapshot runs.
	snap := r.Snapshot()
	_, ok := snap[KeyID("k")]
	require.False(t, ok, "sync must not be applied while the local put is still in flight")

	close(vs.release)
	require.Eventually(t, func() bool {
		snap := r.Snapshot()
		ks, ok := snap[KeyID("k")]
		return ok && ks.Version.Get(KeyID("k")) == 5
	}, time.Second, 5*time.Millisecond, "once the put lands, the strictly newer sync should apply")
}

type capturingClientNet struct{ sent chan WireMsg }

func (n capturingClientNet) Send(to netcore.Addr, msg WireMsg) { n.sent <- msg }

// A Read sends a Get carrying a non-empty, 36-character (UUID string) correlation id.
func TestInvokeAssignsCorrelationID(t *testing.T) {
	net := capturingClientNet{sent: make(chan WireMsg, 1)}
	client := NewClient(netcore.ClientID(1), netcore.Addr("c0"), netcore.Addr("r0"), net)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	go client.Read(ctx, KeyID("k"))

	msg := <-net.sent
	require.NotNil(t, msg.Get)
	require.NotEmpty(t, msg.Get.CorrelationID)
	require.Len(t, msg.Get.CorrelationID, 36)

	client.RecvGetOk(GetOk{Key: KeyID("k"), Seq: msg.Get.Seq, Version: NewOrdinaryVersion(), CorrelationID: msg.Get.CorrelationID})
}
