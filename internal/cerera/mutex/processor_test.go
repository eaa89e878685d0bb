package mutex

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cerera/replicore/internal/cerera/clock"
	"github.com/cerera/replicore/internal/cerera/netcore"
	"github.com/stretchr/testify/require"
)

// hub wires a fixed set of Processors together in-process, delivering Broadcast/
// SendIndex traffic directly to the matching Recv* method.
type hub struct {
	procs []*Processor
}

type peerNet struct {
	h    *hub
	self int
}

func (p peerNet) Send(to netcore.Addr, msg WireMsg) {}

func (p peerNet) Broadcast(msg WireMsg) {
	for i, proc := range p.h.procs {
		if i == p.self {
			continue
		}
		deliver(proc, msg)
	}
}

func (p peerNet) SendIndex(i int, msg WireMsg) {
	if i == p.self {
		return
	}
	deliver(p.h.procs[i], msg)
}

func (p peerNet) Len() int { return len(p.h.procs) }

func deliver(p *Processor, msg WireMsg) {
	switch {
	case msg.Request != nil:
		p.RecvRequest(*msg.Request)
	case msg.Ack != nil:
		p.RecvAck(*msg.Ack)
	case msg.Release != nil:
		p.RecvRelease(*msg.Release)
	}
}

func newUntrustedCluster(t *testing.T, n int) (*hub, context.CancelFunc) {
	h := &hub{}
	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < n; i++ {
		cfg := Config{N: n, Self: netcore.ReplicaID(i), Variant: VariantUntrusted}
		proc := NewProcessor(cfg, peerNet{h: h, self: i})
		h.procs = append(h.procs, proc)
	}
	for _, p := range h.procs {
		go p.Run(ctx)
	}
	t.Cleanup(cancel)
	return h, cancel
}

// Mutual exclusion: when every site races for the critical section, exactly one holds
// it at a time and every site eventually gets a turn.
func TestMutualExclusionAndProgress(t *testing.T) {
	h, _ := newUntrustedCluster(t, 3)

	var mu sync.Mutex
	inCS := 0
	maxConcurrent := 0
	entries := 0

	var wg sync.WaitGroup
	for _, p := range h.procs {
		wg.Add(1)
		go func(p *Processor) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			require.NoError(t, p.RequestCS(ctx))

			mu.Lock()
			inCS++
			if inCS > maxConcurrent {
				maxConcurrent = inCS
			}
			entries++
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inCS--
			mu.Unlock()

			p.ReleaseCS()
		}(p)
	}
	wg.Wait()

	require.Equal(t, 1, maxConcurrent, "at most one site may hold the critical section at a time")
	require.Equal(t, 3, entries)
}

// Priority ordering: the site with the lower (clock, replica_id) wins a head-to-head
// race when requests are seeded with ties broken purely by replica id.
func TestPriorityOrdersTiedClocksByReplicaID(t *testing.T) {
	var lower, higher Request
	lower = Request{ReplicaID: 0, Scalar: clock.LamportClock(5)}
	higher = Request{ReplicaID: 1, Scalar: clock.LamportClock(5)}
	require.True(t, lower.less(higher))
	require.False(t, higher.less(lower))
}
