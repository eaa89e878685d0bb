package causalnet

import (
	"testing"
	"time"

	"github.com/cerera/replicore/internal/cerera/clock"
	"github.com/stretchr/testify/require"
)

type recordingNet struct {
	sent chan Stamped[string]
}

func (n *recordingNet) Broadcast(msg Stamped[string]) { n.sent <- msg }

func TestUntrustedPipelineStampsAndDelivers(t *testing.T) {
	net := &recordingNet{sent: make(chan Stamped[string], 4)}
	c := New[string](Config{Variant: VariantUntrusted}, net)
	stop := make(chan struct{})
	defer close(stop)
	go c.Run(stop)

	c.Enqueue("hello")

	select {
	case st := <-net.sent:
		require.Equal(t, "hello", st.Msg)
		require.Nil(t, st.Quorum)
	case <-time.After(time.Second):
		t.Fatal("message was never delivered")
	}
}

func TestRecvStampedMergesClockAndInvokesDeliver(t *testing.T) {
	net := &recordingNet{sent: make(chan Stamped[string], 1)}
	c := New[string](Config{Variant: VariantUntrusted}, net)
	stop := make(chan struct{})
	defer close(stop)

	got := make(chan Stamped[string], 1)
	c.Deliver = func(st Stamped[string]) { got <- st }
	go c.Run(stop)

	c.RecvStamped(Stamped[string]{Clock: 9, Msg: "peer-event"})

	select {
	case st := <-got:
		require.Equal(t, "peer-event", st.Msg)
		require.Equal(t, clock.LamportClock(10), c.clk) // max(0, 9) + 1
	case <-time.After(time.Second):
		t.Fatal("Deliver was never invoked")
	}
}
