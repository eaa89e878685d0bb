package cops

import (
	"context"

	"github.com/cerera/replicore/internal/cerera/logger"
	"github.com/cerera/replicore/internal/cerera/netcore"
	"github.com/cerera/replicore/internal/cerera/tcpnet"
)

// Frame.Kind constants for the ToReplicaMessage<V,A>/ToClientMessage<V> families
// spec.md §6 defines for COPS.
const (
	kindGet     = "cops.get"
	kindGetOk   = "cops.getok"
	kindPut     = "cops.put"
	kindPutOk   = "cops.putok"
	kindSyncKey = "cops.sync"
)

var netLog = logger.Named("cops.net")

func encodeWireMsg(msg WireMsg) (string, any) {
	switch {
	case msg.Get != nil:
		return kindGet, msg.Get
	case msg.GetOk != nil:
		return kindGetOk, msg.GetOk
	case msg.Put != nil:
		return kindPut, msg.Put
	case msg.PutOk != nil:
		return kindPutOk, msg.PutOk
	case msg.Sync != nil:
		return kindSyncKey, msg.Sync
	default:
		return "", nil
	}
}

// DecodeAndDispatch resolves one inbound Frame from a peer replica into the matching
// Recv<T> call on r.
func DecodeAndDispatch(r *Replica, f netcore.Frame) {
	switch f.Kind {
	case kindGet:
		var g Get
		if err := f.Decode(&g); err != nil {
			netLog.Errorw("decode get", "err", err)
			return
		}
		r.RecvGet(g)
	case kindPut:
		var p Put
		if err := f.Decode(&p); err != nil {
			netLog.Errorw("decode put", "err", err)
			return
		}
		r.RecvPut(p)
	case kindSyncKey:
		var s SyncKey
		if err := f.Decode(&s); err != nil {
			netLog.Errorw("decode sync", "err", err)
			return
		}
		r.RecvSync(s)
	default:
		netLog.Debugw("unknown frame kind", "kind", f.Kind)
	}
}

// DecodeAndDispatchClient resolves one inbound Frame into a Client's RecvGetOk/RecvPutOk.
func DecodeAndDispatchClient(c *Client, f netcore.Frame) {
	switch f.Kind {
	case kindGetOk:
		var g GetOk
		if err := f.Decode(&g); err != nil {
			netLog.Errorw("decode getok", "err", err)
			return
		}
		c.RecvGetOk(g)
	case kindPutOk:
		var p PutOk
		if err := f.Decode(&p); err != nil {
			netLog.Errorw("decode putok", "err", err)
			return
		}
		c.RecvPutOk(p)
	default:
		netLog.Debugw("unknown frame kind", "kind", f.Kind)
	}
}

// TCPUnicastNet implements netcore.UnicastNet[WireMsg] over connections bound per address —
// what a client's Get/Put sends through, and what a replica's client-facing reply route
// uses once bound to the connection a Get/Put arrived on.
type TCPUnicastNet struct {
	byAddr map[netcore.Addr]*tcpnet.Conn
}

func NewTCPUnicastNet() *TCPUnicastNet { return &TCPUnicastNet{byAddr: make(map[netcore.Addr]*tcpnet.Conn)} }

func (n *TCPUnicastNet) Bind(addr netcore.Addr, conn *tcpnet.Conn) { n.byAddr[addr] = conn }

func (n *TCPUnicastNet) Send(to netcore.Addr, msg WireMsg) {
	conn, ok := n.byAddr[to]
	if !ok {
		netLog.Debugw("no route to peer", "addr", to)
		return
	}
	kind, body := encodeWireMsg(msg)
	if kind == "" {
		return
	}
	if err := conn.Send(kind, body); err != nil {
		netLog.Errorw("send failed", "to", to, "err", err)
	}
}

// TCPAllNet implements netcore.AllNet[WireMsg] by broadcasting to a fixed peer set, used
// for the replica-to-replica SyncKey fan-out (spec.md §4.5's "all-to-all sync").
type TCPAllNet struct {
	peers []*tcpnet.Conn
}

func NewTCPAllNet(peers []*tcpnet.Conn) *TCPAllNet { return &TCPAllNet{peers: peers} }

func (n *TCPAllNet) Broadcast(msg WireMsg) {
	kind, body := encodeWireMsg(msg)
	if kind == "" {
		return
	}
	for _, c := range n.peers {
		if c == nil {
			continue
		}
		if err := c.Send(kind, body); err != nil {
			netLog.Errorw("broadcast failed", "err", err)
		}
	}
}

// ServeReplica accepts connections on l, binding each client's address on its first
// Get/Put so replies route back over the same socket, and dispatching peer SyncKey
// traffic through the same parse-dispatch entry point.
func ServeReplica(ctx context.Context, l *tcpnet.Listener, r *Replica, clientNet *TCPUnicastNet) {
	l.Serve(ctx, func(conn *tcpnet.Conn) {
		conn.Serve(ctx, func(f netcore.Frame) {
			switch f.Kind {
			case kindGet:
				var g Get
				if err := f.Decode(&g); err != nil {
					netLog.Errorw("decode get", "err", err)
					return
				}
				clientNet.Bind(g.ClientAddr, conn)
				r.RecvGet(g)
			case kindPut:
				var p Put
				if err := f.Decode(&p); err != nil {
					netLog.Errorw("decode put", "err", err)
					return
				}
				clientNet.Bind(p.ClientAddr, conn)
				r.RecvPut(p)
			default:
				DecodeAndDispatch(r, f)
			}
		})
	})
}

// ServeClient accepts GetOk/PutOk frames on conn, dispatching into c until ctx is
// cancelled.
func ServeClient(ctx context.Context, conn *tcpnet.Conn, c *Client) {
	conn.Serve(ctx, func(f netcore.Frame) { DecodeAndDispatchClient(c, f) })
}
