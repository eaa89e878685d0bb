package cops

import (
	"context"
	"time"

	"github.com/cerera/replicore/internal/cerera/eventbus"
	"github.com/cerera/replicore/internal/cerera/netcore"
	"github.com/google/uuid"
)

// clientEvent is the closed event set a Client's mailbox accepts.
type clientEvent interface{ isClientEvent() }

type evInvokeRead struct {
	key    KeyID
	result chan []byte
	errCh  chan error
}
type evInvokeUpdate struct {
	key   KeyID
	value []byte
	errCh chan error
}
type evClientRecvGetOk struct{ GetOk GetOk }
type evClientRecvPutOk struct{ PutOk PutOk }
type evInvokeTimeout struct{}

func (evInvokeRead) isClientEvent()      {}
func (evInvokeUpdate) isClientEvent()    {}
func (evClientRecvGetOk) isClientEvent() {}
func (evClientRecvPutOk) isClientEvent() {}
func (evInvokeTimeout) isClientEvent()   {}

// invokeTimeout is spec.md §4.7's 800ms resend interval for an outstanding Get/Put.
const invokeTimeout = 800 * time.Millisecond

type pendingKind int

const (
	pendingRead pendingKind = iota
	pendingUpdate
)

type pendingInvoke struct {
	kind          pendingKind
	key           KeyID
	value         []byte
	seq           uint32
	correlationID string
	result        chan []byte
	errCh         chan error
	timerID       eventbus.TimerID
}

// Client is spec.md §4.7's COPS client: it tracks a causal context (the merge of every
// version it has observed) and attaches it to every Put as that write's dependencies,
// so a replica never serves a write before its client has seen everything that write
// causally depended on.
type Client struct {
	id           netcore.ClientID
	addr         netcore.Addr
	replicaAddr  netcore.Addr
	net          netcore.UnicastNet[WireMsg]
	timers       *eventbus.Timers
	mailbox      *eventbus.Mailbox[clientEvent]

	seq     uint32
	context OrdinaryVersion
	pending *pendingInvoke
}

// NewClient builds a Client identified by id/addr, talking to replicaAddr through net.
func NewClient(id netcore.ClientID, addr, replicaAddr netcore.Addr, net netcore.UnicastNet[WireMsg]) *Client {
	return &Client{
		id:          id,
		addr:        addr,
		replicaAddr: replicaAddr,
		net:         net,
		timers:      eventbus.NewTimers(),
		mailbox:     eventbus.NewMailbox[clientEvent](32),
		context:     NewOrdinaryVersion(),
	}
}

// Run drains the client's mailbox until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.timers.CancelAll()
			return
		case ev := <-c.mailbox.C():
			c.handle(ev)
		}
	}
}

func (c *Client) handle(ev clientEvent) {
	switch e := ev.(type) {
	case evInvokeRead:
		c.handleInvokeRead(e)
	case evInvokeUpdate:
		c.handleInvokeUpdate(e)
	case evClientRecvGetOk:
		c.handleRecvGetOk(e.GetOk)
	case evClientRecvPutOk:
		c.handleRecvPutOk(e.PutOk)
	case evInvokeTimeout:
		c.handleTimeout()
	}
}

// RecvGetOk and RecvPutOk feed replica replies into the client's mailbox.
func (c *Client) RecvGetOk(g GetOk) { c.mailbox.Emit(evClientRecvGetOk{GetOk: g}) }
func (c *Client) RecvPutOk(p PutOk) { c.mailbox.Emit(evClientRecvPutOk{PutOk: p}) }

// Read invokes a causally-consistent Get for key: the returned value is never older
// than anything this client has previously read or written.
func (c *Client) Read(ctx context.Context, key KeyID) ([]byte, error) {
	result := make(chan []byte, 1)
	errCh := make(chan error, 1)
	c.mailbox.Emit(evInvokeRead{key: key, result: result, errCh: errCh})
	select {
	case v := <-result:
		return v, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Update invokes a causally-consistent Put for key, carrying this client's current
// context as the write's dependencies.
func (c *Client) Update(ctx context.Context, key KeyID, value []byte) error {
	errCh := make(chan error, 1)
	c.mailbox.Emit(evInvokeUpdate{key: key, value: value, errCh: errCh})
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) handleInvokeRead(e evInvokeRead) {
	c.seq++
	c.pending = &pendingInvoke{kind: pendingRead, key: e.key, seq: c.seq, correlationID: uuid.NewString(), result: e.result, errCh: e.errCh}
	c.sendGet()
	c.armTimeout()
}

func (c *Client) handleInvokeUpdate(e evInvokeUpdate) {
	c.seq++
	c.pending = &pendingInvoke{kind: pendingUpdate, key: e.key, value: e.value, seq: c.seq, correlationID: uuid.NewString(), errCh: e.errCh}
	c.sendPut()
	c.armTimeout()
}

func (c *Client) sendGet() {
	req := Get{Key: c.pending.key, ClientID: c.id, ClientAddr: c.addr, Seq: c.pending.seq, CorrelationID: c.pending.correlationID}
	c.net.Send(c.replicaAddr, WireMsg{Get: &req})
}

func (c *Client) sendPut() {
	req := Put{Key: c.pending.key, Value: c.pending.value, Deps: c.context, ClientID: c.id, ClientAddr: c.addr, Seq: c.pending.seq, CorrelationID: c.pending.correlationID}
	c.net.Send(c.replicaAddr, WireMsg{Put: &req})
}

func (c *Client) armTimeout() {
	c.pending.timerID = c.timers.Schedule(invokeTimeout, func() { c.mailbox.Emit(evInvokeTimeout{}) })
}

func (c *Client) handleTimeout() {
	if c.pending == nil {
		return
	}
	if c.pending.kind == pendingRead {
		c.sendGet()
	} else {
		c.sendPut()
	}
	c.armTimeout()
}

func (c *Client) handleRecvGetOk(g GetOk) {
	if c.pending == nil || c.pending.kind != pendingRead || g.Seq != c.pending.seq || g.Key != c.pending.key {
		return
	}
	c.context = c.context.Merge(g.Version).(OrdinaryVersion)
	c.timers.Cancel(c.pending.timerID)
	result := c.pending.result
	c.pending = nil
	result <- g.Value
}

func (c *Client) handleRecvPutOk(p PutOk) {
	if c.pending == nil || c.pending.kind != pendingUpdate || p.Seq != c.pending.seq || p.Key != c.pending.key {
		return
	}
	c.context = c.context.Merge(p.Version).(OrdinaryVersion)
	c.timers.Cancel(c.pending.timerID)
	errCh := c.pending.errCh
	c.pending = nil
	errCh <- nil
}
