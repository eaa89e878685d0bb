package mutex

import (
	"context"
	"sort"
	"time"

	"github.com/cerera/replicore/internal/cerera/clock"
	"github.com/cerera/replicore/internal/cerera/eventbus"
	"github.com/cerera/replicore/internal/cerera/netcore"
	"github.com/cerera/replicore/internal/cerera/replmetrics"
)

// procEvent is the closed event set a Processor's mailbox accepts.
type procEvent interface{ isProcEvent() }

type evRequestCS struct{ grant chan struct{} }
type evReleaseCS struct{}
type evRecvRequest struct{ Req Request }
type evRecvAck struct{ Ack Ack }
type evRecvRelease struct{ Rel Release }

func (evRequestCS) isProcEvent()    {}
func (evReleaseCS) isProcEvent()    {}
func (evRecvRequest) isProcEvent()  {}
func (evRecvAck) isProcEvent()      {}
func (evRecvRelease) isProcEvent()  {}

// Verifier checks a QuorumClock's certifying signatures; it is how a VariantQuorum
// processor validates a peer's claimed priority without trusting the peer directly.
type Verifier func(netcore.Digest, netcore.Signature, netcore.ReplicaID) bool

// Config carries a Processor's static parameters.
type Config struct {
	N         int
	Self      netcore.ReplicaID
	Variant   Variant
	NumFaulty int

	// QuorumClient certifies this site's own Requests when Variant == VariantQuorum.
	QuorumClient clock.QuorumClient
	// Verify checks a peer's Request.Quorum certification when Variant == VariantQuorum.
	Verify Verifier
}

// Processor is spec.md §4.3's single-threaded Lamport mutual-exclusion site: a local
// priority queue of outstanding Requests ordered by (clock, replica_id), granting the
// critical section once this site's own Request is at the head of the queue and every
// other site has acknowledged a clock value past it.
type Processor struct {
	cfg Config
	clk clock.LamportClock
	net netcore.ReplicaNet[WireMsg]

	mailbox *eventbus.Mailbox[procEvent]

	queue []Request
	acked map[netcore.ReplicaID]bool

	requesting   bool
	inCS         bool
	grantCh      chan struct{}
	requestedAt  time.Time
}

// NewProcessor builds a Processor for cfg, talking to its peers through net.
func NewProcessor(cfg Config, net netcore.ReplicaNet[WireMsg]) *Processor {
	return &Processor{
		cfg:     cfg,
		net:     net,
		mailbox: eventbus.NewMailbox[procEvent](64),
		acked:   make(map[netcore.ReplicaID]bool),
	}
}

// Run drains the mailbox until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.mailbox.C():
			p.handle(ev)
		}
	}
}

func (p *Processor) handle(ev procEvent) {
	switch e := ev.(type) {
	case evRequestCS:
		p.handleRequestCS(e)
	case evReleaseCS:
		p.handleReleaseCS()
	case evRecvRequest:
		p.handleRecvRequest(e.Req)
	case evRecvAck:
		p.handleRecvAck(e.Ack)
	case evRecvRelease:
		p.handleRecvRelease(e.Rel)
	}
}

// RecvRequest, RecvAck and RecvRelease feed wire traffic from peers into the processor.
func (p *Processor) RecvRequest(req Request) { p.mailbox.Emit(evRecvRequest{Req: req}) }
func (p *Processor) RecvAck(ack Ack)          { p.mailbox.Emit(evRecvAck{Ack: ack}) }
func (p *Processor) RecvRelease(rel Release)  { p.mailbox.Emit(evRecvRelease{Rel: rel}) }

// RequestCS asks to enter the critical section and blocks until it is granted or ctx is
// cancelled. The caller must eventually call ReleaseCS.
func (p *Processor) RequestCS(ctx context.Context) error {
	grant := make(chan struct{}, 1)
	p.mailbox.Emit(evRequestCS{grant: grant})
	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseCS leaves the critical section and notifies peers to drop this site's
// request from their queues.
func (p *Processor) ReleaseCS() {
	p.mailbox.Emit(evReleaseCS{})
}

func (p *Processor) handleRequestCS(e evRequestCS) {
	p.clk = p.clk.Tick()
	req := Request{ReplicaID: p.cfg.Self, Scalar: p.clk}
	if p.cfg.Variant == VariantQuorum && p.cfg.QuorumClient != nil {
		qc := p.cfg.QuorumClient.Announce(uint64(p.clk))
		req.Quorum = &qc
	}
	p.insertRequest(req)
	p.requesting = true
	p.grantCh = e.grant
	p.requestedAt = time.Now()
	p.acked = make(map[netcore.ReplicaID]bool)
	p.net.Broadcast(WireMsg{Request: &req})
	p.maybeEnter()
}

func (p *Processor) handleReleaseCS() {
	p.inCS = false
	p.requesting = false
	p.removeRequest(p.cfg.Self)
	p.net.Broadcast(WireMsg{Release: &Release{ReplicaID: p.cfg.Self}})
}

func (p *Processor) handleRecvRequest(req Request) {
	if p.cfg.Variant == VariantQuorum {
		if req.Quorum == nil || p.cfg.Verify == nil {
			return
		}
		if !clock.VerifyQuorumClock(*req.Quorum, p.cfg.NumFaulty, p.cfg.Verify) {
			replmetrics.MutexQuorumClockFailures.Inc()
			return // unverifiable claimed priority: silent protocol drop (spec.md §7)
		}
		p.clk = p.clk.Merge(clock.LamportClock(req.Quorum.Value))
	} else {
		p.clk = p.clk.Merge(req.Scalar)
	}
	p.insertRequest(req)
	ack := Ack{ReplicaID: p.cfg.Self, Scalar: p.clk}
	p.net.SendIndex(int(req.ReplicaID), WireMsg{Ack: &ack})
	p.maybeEnter()
}

func (p *Processor) handleRecvAck(ack Ack) {
	p.clk = p.clk.Merge(ack.Scalar)
	p.acked[ack.ReplicaID] = true
	p.maybeEnter()
}

func (p *Processor) handleRecvRelease(rel Release) {
	p.removeRequest(rel.ReplicaID)
	p.maybeEnter()
}

func (p *Processor) insertRequest(req Request) {
	defer func() { replmetrics.MutexQueueDepth.Set(float64(len(p.queue))) }()
	for i, existing := range p.queue {
		if existing.ReplicaID == req.ReplicaID {
			p.queue[i] = req
			p.sortQueue()
			return
		}
	}
	p.queue = append(p.queue, req)
	p.sortQueue()
}

func (p *Processor) removeRequest(id netcore.ReplicaID) {
	defer func() { replmetrics.MutexQueueDepth.Set(float64(len(p.queue))) }()
	for i, existing := range p.queue {
		if existing.ReplicaID == id {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			return
		}
	}
}

func (p *Processor) sortQueue() {
	sort.Slice(p.queue, func(i, j int) bool { return p.queue[i].less(p.queue[j]) })
}

// maybeEnter grants the critical section once this site's own Request heads the
// queue and every other site has acknowledged it (spec.md §4.3's grant condition).
func (p *Processor) maybeEnter() {
	if !p.requesting || p.inCS {
		return
	}
	if len(p.queue) == 0 || p.queue[0].ReplicaID != p.cfg.Self {
		return
	}
	if len(p.acked) < p.cfg.N-1 {
		return
	}
	p.inCS = true
	p.requesting = false
	replmetrics.MutexGrantLatency.Observe(time.Since(p.requestedAt).Seconds())
	grant := p.grantCh
	p.grantCh = nil
	grant <- struct{}{}
}
