package pbft

import (
	"context"
	"time"

	"github.com/cerera/replicore/internal/cerera/eventbus"
	"github.com/cerera/replicore/internal/cerera/netcore"
	"github.com/google/uuid"
)

// clientEvent is the closed event set a Client's mailbox accepts, mirroring
// replicaEvent's pattern on the client side (spec.md §4.2).
type clientEvent interface{ isClientEvent() }

type evInvoke struct {
	op     []byte
	result chan []byte
}

type evClientRecvReply struct{ Reply Reply }

type evResendTimeout struct{}

func (evInvoke) isClientEvent()           {}
func (evClientRecvReply) isClientEvent()  {}
func (evResendTimeout) isClientEvent()    {}

// resendInterval is spec.md §4.2's "resend the outstanding request every 1s until f+1
// matching replies arrive."
const resendInterval = 1 * time.Second

type pendingInvoke struct {
	req      Request
	replies  map[netcore.ReplicaID]Reply
	resultCh chan []byte
	timerID  eventbus.TimerID
}

// ClientConfig carries the quorum parameters a client needs to know it has collected
// enough matching replies.
type ClientConfig struct {
	N int
	F int
}

// Client is spec.md §4.2's PBFT client: Invoke broadcasts a Request to every replica,
// resending on a 1s timer, and completes once f+1 replicas return identical
// (result, view) pairs for the outstanding sequence number.
type Client struct {
	id   netcore.ClientID
	addr netcore.Addr
	cfg  ClientConfig
	net  netcore.ClientNet[WireMsg]

	timers  *eventbus.Timers
	mailbox *eventbus.Mailbox[clientEvent]

	seq     uint32
	pending *pendingInvoke
}

// NewClient builds a client identified by id/addr, talking to the replica set through
// net.
func NewClient(id netcore.ClientID, addr netcore.Addr, cfg ClientConfig, net netcore.ClientNet[WireMsg]) *Client {
	return &Client{
		id:      id,
		addr:    addr,
		cfg:     cfg,
		net:     net,
		timers:  eventbus.NewTimers(),
		mailbox: eventbus.NewMailbox[clientEvent](64),
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
	case evInvoke:
		c.handleInvoke(e)
	case evClientRecvReply:
		c.handleRecvReply(e)
	case evResendTimeout:
		c.handleResendTimeout()
	}
}

// RecvReply feeds a Reply a replica addressed to this client into its mailbox.
func (c *Client) RecvReply(reply Reply) {
	c.mailbox.Emit(evClientRecvReply{Reply: reply})
}

// Invoke submits op and blocks until f+1 replicas agree on a result, or ctx is
// cancelled. A Client handles one outstanding Invoke at a time, matching spec.md's
// single pending-request model per client.
func (c *Client) Invoke(ctx context.Context, op []byte) ([]byte, error) {
	result := make(chan []byte, 1)
	c.mailbox.Emit(evInvoke{op: op, result: result})
	select {
	case res := <-result:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) handleInvoke(e evInvoke) {
	c.seq++
	req := Request{ClientID: c.id, ClientAddr: c.addr, Seq: c.seq, Op: e.op, CorrelationID: uuid.NewString()}
	c.pending = &pendingInvoke{req: req, replies: make(map[netcore.ReplicaID]Reply), resultCh: e.result}
	c.broadcastRequest(req)
	c.pending.timerID = c.timers.Schedule(resendInterval, func() { c.mailbox.Emit(evResendTimeout{}) })
}

func (c *Client) broadcastRequest(req Request) {
	c.net.Broadcast(WireMsg{Request: &req})
}

func (c *Client) handleResendTimeout() {
	if c.pending == nil {
		return
	}
	c.broadcastRequest(c.pending.req)
	c.pending.timerID = c.timers.Schedule(resendInterval, func() { c.mailbox.Emit(evResendTimeout{}) })
}

func (c *Client) handleRecvReply(e evClientRecvReply) {
	if c.pending == nil || e.Reply.Seq != c.pending.req.Seq {
		return
	}
	c.pending.replies[e.Reply.ReplicaID] = e.Reply

	matching := 0
	for _, r := range c.pending.replies {
		if r.ViewNum == e.Reply.ViewNum && string(r.Result) == string(e.Reply.Result) {
			matching++
		}
	}
	if matching < c.cfg.F+1 {
		return
	}
	c.timers.Cancel(c.pending.timerID)
	resultCh := c.pending.resultCh
	result := e.Reply.Result
	c.pending = nil
	resultCh <- result
}
