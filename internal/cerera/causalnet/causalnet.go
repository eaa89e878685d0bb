// Package causalnet sits between a mutex Processor (or any component that needs its
// outgoing messages causally timestamped before they hit the wire) and the underlying
// net. Every outgoing message passes through Queued -> ClockRequested -> Stamped ->
// Delivered (spec.md §4.4): it is queued locally, a clock stamp is requested (a
// synchronous tick for the untrusted variant, an asynchronous external certification
// for the quorum-clock variant), and once stamped it is broadcast and dropped from the
// pending set.
package causalnet

import (
	"github.com/cerera/replicore/internal/cerera/clock"
	"github.com/cerera/replicore/internal/cerera/eventbus"
)

// Stamped wraps a payload with the causal clock it was sent under, the wire shape every
// peer receives.
type Stamped[M any] struct {
	Clock clock.LamportClock
	Quorum *clock.QuorumClock
	Msg   M
}

// Variant mirrors mutex.Variant: whether outgoing messages carry a plain scalar clock
// or a quorum-certified one.
type Variant int

const (
	VariantUntrusted Variant = iota
	VariantQuorum
)

type outboxState int

const (
	stateQueued outboxState = iota
	stateClockRequested
	stateStamped
)

type pendingSend[M any] struct {
	seq   uint64
	msg   M
	state outboxState
}

// causalEvent is the closed event set driving the per-message pipeline.
type causalEvent[M any] interface{ isCausalEvent() }

type evEnqueue[M any] struct{ msg M }
type evStamped[M any] struct {
	seq    uint64
	scalar clock.LamportClock
	quorum *clock.QuorumClock
}
type evRecv[M any] struct{ st Stamped[M] }

func (evEnqueue[M]) isCausalEvent() {}
func (evStamped[M]) isCausalEvent() {}
func (evRecv[M]) isCausalEvent()    {}

// Net is what CausalNet broadcasts Stamped payloads through.
type Net[M any] interface {
	Broadcast(msg Stamped[M])
}

// CausalNet is the generic Queued->ClockRequested->Stamped->Delivered pipeline. Deliver
// is invoked (from the pipeline's own goroutine) for every Stamped message received
// from a peer, plain scalar or quorum-certified, merging the local clock as it goes.
type CausalNet[M any] struct {
	cfg    Config
	net    Net[M]
	mailbox *eventbus.Mailbox[causalEvent[M]]

	clk     clock.LamportClock
	nextSeq uint64
	pending map[uint64]*pendingSend[M]

	Deliver func(Stamped[M])
}

// Config carries a CausalNet's clock-stamping parameters.
type Config struct {
	Variant      Variant
	QuorumClient clock.QuorumClient
}

// New builds a CausalNet broadcasting through net, using cfg to decide how outgoing
// messages are stamped.
func New[M any](cfg Config, net Net[M]) *CausalNet[M] {
	return &CausalNet[M]{
		cfg:     cfg,
		net:     net,
		mailbox: eventbus.NewMailbox[causalEvent[M]](128),
		pending: make(map[uint64]*pendingSend[M]),
	}
}

// Run drains the pipeline until stop is closed.
func (c *CausalNet[M]) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev := <-c.mailbox.C():
			c.handle(ev)
		}
	}
}

func (c *CausalNet[M]) handle(ev causalEvent[M]) {
	switch e := ev.(type) {
	case evEnqueue[M]:
		c.handleEnqueue(e)
	case evStamped[M]:
		c.handleStamped(e)
	case evRecv[M]:
		c.handleRecv(e)
	}
}

// Enqueue admits msg into the pipeline: Queued, immediately followed by a clock
// request.
func (c *CausalNet[M]) Enqueue(msg M) {
	c.mailbox.Emit(evEnqueue[M]{msg: msg})
}

// RecvStamped feeds a Stamped payload received from a peer into the pipeline, merging
// this site's clock with it before handing it to Deliver.
func (c *CausalNet[M]) RecvStamped(st Stamped[M]) {
	c.mailbox.Emit(evRecv[M]{st: st})
}

func (c *CausalNet[M]) handleEnqueue(e evEnqueue[M]) {
	c.nextSeq++
	seq := c.nextSeq
	c.pending[seq] = &pendingSend[M]{seq: seq, msg: e.msg, state: stateQueued}
	c.requestClock(seq)
}

func (c *CausalNet[M]) requestClock(seq uint64) {
	send, ok := c.pending[seq]
	if !ok {
		return
	}
	send.state = stateClockRequested
	if c.cfg.Variant == VariantUntrusted || c.cfg.QuorumClient == nil {
		c.clk = c.clk.Tick()
		c.mailbox.Emit(evStamped[M]{seq: seq, scalar: c.clk})
		return
	}
	c.clk = c.clk.Tick()
	value := c.clk
	sender := c.mailbox.Sender()
	go func() {
		qc := c.cfg.QuorumClient.Announce(uint64(value))
		sender.Emit(evStamped[M]{seq: seq, scalar: value, quorum: &qc})
	}()
}

func (c *CausalNet[M]) handleStamped(e evStamped[M]) {
	send, ok := c.pending[e.seq]
	if !ok {
		return
	}
	send.state = stateStamped
	c.net.Broadcast(Stamped[M]{Clock: e.scalar, Quorum: e.quorum, Msg: send.msg})
	delete(c.pending, e.seq) // Delivered: the pipeline's work for this message is done
}

func (c *CausalNet[M]) handleRecv(e evRecv[M]) {
	c.clk = c.clk.Merge(e.st.Clock)
	if c.Deliver != nil {
		c.Deliver(e.st)
	}
}
