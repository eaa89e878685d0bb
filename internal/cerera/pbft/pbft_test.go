package pbft

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cerera/replicore/internal/cerera/eventbus"
	"github.com/cerera/replicore/internal/cerera/netcore"
	"github.com/stretchr/testify/require"
)

// countingApp executes by echoing "ack:"+op and counts how many times Execute runs,
// so duplicate-request tests can assert no re-execution happened. newCluster shares one
// countingApp across all four replicas, so one committed request counts four times.
type countingApp struct {
	execs int32
}

func (a *countingApp) Execute(op []byte) []byte {
	atomic.AddInt32(&a.execs, 1)
	return append([]byte("ack:"), op...)
}

// hub wires a fixed replica set and a client set together in-process: Broadcast/Send on
// one participant's net directly invokes the matching Recv* method on every other
// participant, with no real socket in between.
type hub struct {
	mu       sync.Mutex
	order    []netcore.Addr
	replicas map[netcore.Addr]*Replica
	clients  map[netcore.Addr]*Client
}

func newHub() *hub {
	return &hub{replicas: make(map[netcore.Addr]*Replica), clients: make(map[netcore.Addr]*Client)}
}

func (h *hub) deliver(to *Replica, msg WireMsg) {
	switch {
	case msg.Request != nil:
		to.RecvRequest(*msg.Request)
	case msg.PrePrepare != nil:
		to.RecvPrePrepare(*msg.PrePrepare, msg.Batch)
	case msg.Prepare != nil:
		to.RecvPrepare(*msg.Prepare)
	case msg.Commit != nil:
		to.RecvCommit(*msg.Commit)
	}
}

type peerNet struct {
	h    *hub
	self netcore.Addr
}

func (p peerNet) Send(to netcore.Addr, msg WireMsg) {
	p.h.mu.Lock()
	rep, ok := p.h.replicas[to]
	p.h.mu.Unlock()
	if ok {
		p.h.deliver(rep, msg)
	}
}

func (p peerNet) Broadcast(msg WireMsg) {
	p.h.mu.Lock()
	targets := make([]*Replica, 0, len(p.h.replicas))
	for addr, rep := range p.h.replicas {
		if addr == p.self {
			continue
		}
		targets = append(targets, rep)
	}
	p.h.mu.Unlock()
	for _, rep := range targets {
		p.h.deliver(rep, msg)
	}
}

func (p peerNet) SendIndex(i int, msg WireMsg) {
	p.h.mu.Lock()
	addr := p.h.order[i]
	rep, ok := p.h.replicas[addr]
	p.h.mu.Unlock()
	if ok && addr != p.self {
		p.h.deliver(rep, msg)
	}
}

func (p peerNet) Len() int {
	p.h.mu.Lock()
	defer p.h.mu.Unlock()
	return len(p.h.order)
}

// toClientNet delivers Replies to whichever Client is registered at an Addr.
type toClientNet struct{ h *hub }

func (n toClientNet) Send(to netcore.Addr, reply Reply) {
	n.h.mu.Lock()
	c, ok := n.h.clients[to]
	n.h.mu.Unlock()
	if ok {
		c.RecvReply(reply)
	}
}

// clientPeerNet is what the Client broadcasts Requests through: every replica in the
// hub receives it.
type clientPeerNet struct{ h *hub }

func (n clientPeerNet) Send(to netcore.Addr, msg WireMsg) {
	n.h.mu.Lock()
	rep, ok := n.h.replicas[to]
	n.h.mu.Unlock()
	if ok {
		n.h.deliver(rep, msg)
	}
}

func (n clientPeerNet) Broadcast(msg WireMsg) {
	n.h.mu.Lock()
	targets := make([]*Replica, 0, len(n.h.replicas))
	for _, rep := range n.h.replicas {
		targets = append(targets, rep)
	}
	n.h.mu.Unlock()
	for _, rep := range targets {
		n.h.deliver(rep, msg)
	}
}

func keyRings(n int) map[netcore.ReplicaID]*netcore.KeyRing {
	keys := make(map[netcore.ReplicaID][]byte, n)
	for i := 0; i < n; i++ {
		keys[netcore.ReplicaID(i)] = []byte{byte(i), 0x51, 0x52}
	}
	rings := make(map[netcore.ReplicaID]*netcore.KeyRing, n)
	for i := 0; i < n; i++ {
		rings[netcore.ReplicaID(i)] = netcore.NewKeyRing(netcore.ReplicaID(i), keys)
	}
	return rings
}

// cluster is a running n=4, f=1 PBFT replica set plus one client, all wired through an
// in-process hub.
type cluster struct {
	h         *hub
	app       *countingApp
	replicas  []*Replica
	client    *Client
	clientTap *countingUnicast
	cancel    context.CancelFunc
}

func newCluster(t *testing.T) *cluster {
	const n, f = 4, 1
	h := newHub()
	app := &countingApp{}
	rings := keyRings(n)

	for i := 0; i < n; i++ {
		addr := netcore.Addr(fmt.Sprintf("r%d", i))
		h.order = append(h.order, addr)
	}
	for i := 0; i < n; i++ {
		addr := h.order[i]
		crypto := eventbus.NewCryptoWorker(rings[netcore.ReplicaID(i)], 2, 16)
		cfg := Config{N: n, F: f, Self: netcore.ReplicaID(i), View: 0}
		rep := NewReplica(cfg, app, peerNet{h: h, self: addr}, toClientNet{h: h}, crypto)
		h.replicas[addr] = rep
	}

	clientAddr := netcore.Addr("c0")
	client := NewClient(netcore.ClientID(7), clientAddr, ClientConfig{N: n, F: f}, clientPeerNet{h: h})
	h.clients[clientAddr] = client

	ctx, cancel := context.WithCancel(context.Background())
	for _, rep := range h.replicas {
		go rep.Run(ctx)
	}
	go client.Run(ctx)

	t.Cleanup(cancel)
	return &cluster{h: h, app: app, client: client, cancel: cancel}
}

func (c *cluster) primary() *Replica {
	return c.h.replicas[c.h.order[0]]
}

// E1: the normal case. A client invoke against a healthy n=4,f=1 cluster completes with
// the application's result once a quorum commits the request.
func TestNormalCaseCommitsAndReplies(t *testing.T) {
	c := newCluster(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := c.client.Invoke(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "ack:hello", string(result))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&c.app.execs) == 4 }, time.Second, 5*time.Millisecond)
}

// E2: a duplicate request (e.g. redelivered by a resend) must not re-execute against
// the application; the cached reply is resent instead.
func TestDuplicateRequestDoesNotReexecute(t *testing.T) {
	c := newCluster(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := c.client.Invoke(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "ack:hello", string(result))
	require.Equal(t, int32(1), atomic.LoadInt32(&c.app.execs))

	// Replay the exact same (client_id, seq) request straight at the primary, as a
	// resend would, bypassing the real client's bookkeeping so seq collides exactly.
	dup := Request{ClientID: netcore.ClientID(7), ClientAddr: netcore.Addr("c0"), Seq: 1, Op: []byte("hello")}
	c.primary().RecvRequest(dup)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&c.app.execs), "duplicate request must not re-execute")
}

// Property (spec.md §8): a slot only becomes Prepared once the Prepares tally plus the
// implicit primary vote reaches n-f, and Committed-Local only once Commits reach n-f
// with the slot already Prepared.
func TestQuorumThresholdsOnNormalCommit(t *testing.T) {
	c := newCluster(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.client.Invoke(ctx, []byte("x"))
	require.NoError(t, err)

	snap := c.primary().Snapshot()
	require.Equal(t, uint32(1), snap.CommitNum)
	entry, ok := snap.Entries[1]
	require.True(t, ok)
	require.True(t, entry.Prepared)
	require.True(t, entry.CommittedLocal)
	require.GreaterOrEqual(t, entry.PrepareCount+1, 3) // n-f = 3
	require.GreaterOrEqual(t, entry.CommitCount, 3)
}

type capturingNet struct{ broadcast chan WireMsg }

func (n capturingNet) Send(to netcore.Addr, msg WireMsg) {}
func (n capturingNet) Broadcast(msg WireMsg)              { n.broadcast <- msg }

// A Request gets a fresh, non-empty correlation id every Invoke, independent of
// (ClientID, Seq), so replica logs can trace one call even across seq reuse.
func TestInvokeAssignsCorrelationID(t *testing.T) {
	net := capturingNet{broadcast: make(chan WireMsg, 1)}
	c := NewClient(netcore.ClientID(1), netcore.Addr("c0"), ClientConfig{N: 1, F: 0}, net)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	go c.Invoke(ctx, []byte("x"))

	msg := <-net.broadcast
	require.NotNil(t, msg.Request)
	require.NotEmpty(t, msg.Request.CorrelationID)
	require.Len(t, msg.Request.CorrelationID, 36)
}
