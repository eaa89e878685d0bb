package pbft

import (
	"context"

	"github.com/cerera/replicore/internal/cerera/logger"
	"github.com/cerera/replicore/internal/cerera/netcore"
	"github.com/cerera/replicore/internal/cerera/tcpnet"
)

// Frame.Kind constants for the ToReplica<A>/ToClient families spec.md §6 defines.
const (
	kindRequest    = "pbft.request"
	kindPrePrepare = "pbft.preprepare"
	kindPrepare    = "pbft.prepare"
	kindCommit     = "pbft.commit"
	kindReply      = "pbft.reply"
)

var netLog = logger.Named("pbft.net")

// wirePrePrepare is PrePrepare's on-wire shape: the certificate plus the batch it
// references, kept together since WireMsg splits them into separate fields in-process.
type wirePrePrepare struct {
	Ver   netcore.Verifiable[PrePrepare]
	Batch []Request
}

func encodeWireMsg(msg WireMsg) (string, any) {
	switch {
	case msg.Request != nil:
		return kindRequest, msg.Request
	case msg.PrePrepare != nil:
		return kindPrePrepare, wirePrePrepare{Ver: *msg.PrePrepare, Batch: msg.Batch}
	case msg.Prepare != nil:
		return kindPrepare, msg.Prepare
	case msg.Commit != nil:
		return kindCommit, msg.Commit
	default:
		return "", nil
	}
}

// DecodeAndDispatch resolves one inbound Frame into the matching Recv<T> call on r,
// the parse-dispatch entry point spec.md §6 requires. Unknown kinds and decode failures
// are logged and dropped (propagating a decode error up would tear down the whole
// connection for what's often just a version skew between peers).
func DecodeAndDispatch(r *Replica, f netcore.Frame) {
	switch f.Kind {
	case kindRequest:
		var req Request
		if err := f.Decode(&req); err != nil {
			netLog.Errorw("decode request", "err", err)
			return
		}
		r.RecvRequest(req)
	case kindPrePrepare:
		var w wirePrePrepare
		if err := f.Decode(&w); err != nil {
			netLog.Errorw("decode preprepare", "err", err)
			return
		}
		r.RecvPrePrepare(w.Ver, w.Batch)
	case kindPrepare:
		var ver netcore.Verifiable[Prepare]
		if err := f.Decode(&ver); err != nil {
			netLog.Errorw("decode prepare", "err", err)
			return
		}
		r.RecvPrepare(ver)
	case kindCommit:
		var ver netcore.Verifiable[Commit]
		if err := f.Decode(&ver); err != nil {
			netLog.Errorw("decode commit", "err", err)
			return
		}
		r.RecvCommit(ver)
	default:
		netLog.Debugw("unknown frame kind", "kind", f.Kind)
	}
}

// DecodeAndDispatchClient resolves one inbound Frame into a Client's RecvReply.
func DecodeAndDispatchClient(c *Client, f netcore.Frame) {
	switch f.Kind {
	case kindReply:
		var reply Reply
		if err := f.Decode(&reply); err != nil {
			netLog.Errorw("decode reply", "err", err)
			return
		}
		c.RecvReply(reply)
	default:
		netLog.Debugw("unknown frame kind", "kind", f.Kind)
	}
}

// TCPReplicaNet implements netcore.ReplicaNet[WireMsg] over a fixed peer connection
// set, indexed by netcore.ReplicaID, with self excluded from Broadcast/SendIndex.
type TCPReplicaNet struct {
	self  netcore.ReplicaID
	addrs []netcore.Addr
	peers []*tcpnet.Conn
}

// NewTCPReplicaNet builds a ReplicaNet where peers[i]/addrs[i] both describe replica i;
// peers[self] may be nil since a replica never dials itself.
func NewTCPReplicaNet(self netcore.ReplicaID, addrs []netcore.Addr, peers []*tcpnet.Conn) *TCPReplicaNet {
	return &TCPReplicaNet{self: self, addrs: addrs, peers: peers}
}

func (n *TCPReplicaNet) Broadcast(msg WireMsg) {
	kind, body := encodeWireMsg(msg)
	if kind == "" {
		return
	}
	for i, c := range n.peers {
		if netcore.ReplicaID(i) == n.self || c == nil {
			continue
		}
		if err := c.Send(kind, body); err != nil {
			netLog.Errorw("broadcast failed", "to", i, "err", err)
		}
	}
}

func (n *TCPReplicaNet) SendIndex(i int, msg WireMsg) {
	if i < 0 || i >= len(n.peers) || netcore.ReplicaID(i) == n.self || n.peers[i] == nil {
		return
	}
	kind, body := encodeWireMsg(msg)
	if kind == "" {
		return
	}
	if err := n.peers[i].Send(kind, body); err != nil {
		netLog.Errorw("indexed send failed", "to", i, "err", err)
	}
}

func (n *TCPReplicaNet) Len() int { return len(n.peers) }

func (n *TCPReplicaNet) Send(to netcore.Addr, msg WireMsg) {
	for i, a := range n.addrs {
		if a == to {
			n.SendIndex(i, msg)
			return
		}
	}
}

// TCPClientUnicastNet implements netcore.UnicastNet[Reply]: a replica's connection back
// to whichever clients have an outstanding request, keyed by the client's address and
// populated lazily as requests arrive on an accepted connection.
type TCPClientUnicastNet struct {
	byAddr map[netcore.Addr]*tcpnet.Conn
}

func NewTCPClientUnicastNet() *TCPClientUnicastNet {
	return &TCPClientUnicastNet{byAddr: make(map[netcore.Addr]*tcpnet.Conn)}
}

// Bind associates addr with conn, called once a client's first Request names its own
// address and the accepting side wants to route Reply back over the same socket.
func (n *TCPClientUnicastNet) Bind(addr netcore.Addr, conn *tcpnet.Conn) {
	n.byAddr[addr] = conn
}

func (n *TCPClientUnicastNet) Send(to netcore.Addr, msg Reply) {
	conn, ok := n.byAddr[to]
	if !ok {
		netLog.Debugw("reply has no route back to client", "client", to)
		return
	}
	if err := conn.Send(kindReply, msg); err != nil {
		netLog.Errorw("reply send failed", "to", to, "err", err)
	}
}

// TCPClientNet implements netcore.ClientNet[WireMsg]: a client's connections to every
// replica. pbft.Client sends every Request, first send and resends alike, through
// Broadcast; it does not unicast to the primary.
type TCPClientNet struct {
	conns []*tcpnet.Conn
	addrs []netcore.Addr
}

func NewTCPClientNet(addrs []netcore.Addr, conns []*tcpnet.Conn) *TCPClientNet {
	return &TCPClientNet{addrs: addrs, conns: conns}
}

func (n *TCPClientNet) Send(to netcore.Addr, msg WireMsg) {
	kind, body := encodeWireMsg(msg)
	if kind == "" {
		return
	}
	for i, a := range n.addrs {
		if a == to {
			if err := n.conns[i].Send(kind, body); err != nil {
				netLog.Errorw("client send failed", "to", to, "err", err)
			}
			return
		}
	}
}

func (n *TCPClientNet) Broadcast(msg WireMsg) {
	kind, body := encodeWireMsg(msg)
	if kind == "" {
		return
	}
	for i, c := range n.conns {
		if err := c.Send(kind, body); err != nil {
			netLog.Errorw("client broadcast failed", "to", n.addrs[i], "err", err)
		}
	}
}

// ServeReplica accepts connections on l, dispatching decoded frames into r until ctx is
// cancelled. Incoming connections may carry either Request traffic (from clients) or
// PrePrepare/Prepare/Commit traffic (from peers); both decode through the same
// parse-dispatch entry point.
func ServeReplica(ctx context.Context, l *tcpnet.Listener, r *Replica, clientNet *TCPClientUnicastNet) {
	l.Serve(ctx, func(conn *tcpnet.Conn) {
		conn.Serve(ctx, func(f netcore.Frame) {
			if f.Kind == kindRequest {
				var req Request
				if err := f.Decode(&req); err != nil {
					netLog.Errorw("decode request", "err", err)
					return
				}
				clientNet.Bind(req.ClientAddr, conn)
				r.RecvRequest(req)
				return
			}
			DecodeAndDispatch(r, f)
		})
	})
}

// ServeClient accepts Reply frames on conn, dispatching into c until ctx is cancelled.
func ServeClient(ctx context.Context, conn *tcpnet.Conn, c *Client) {
	conn.Serve(ctx, func(f netcore.Frame) { DecodeAndDispatchClient(c, f) })
}
