package mutex

import (
	"context"

	"github.com/cerera/replicore/internal/cerera/logger"
	"github.com/cerera/replicore/internal/cerera/netcore"
	"github.com/cerera/replicore/internal/cerera/tcpnet"
)

// Frame.Kind constants for the plain/verifiable mutex messages spec.md §6 lists.
const (
	kindRequest = "mutex.request"
	kindAck     = "mutex.ack"
	kindRelease = "mutex.release"
)

var netLog = logger.Named("mutex.net")

func encodeWireMsg(msg WireMsg) (string, any) {
	switch {
	case msg.Request != nil:
		return kindRequest, msg.Request
	case msg.Ack != nil:
		return kindAck, msg.Ack
	case msg.Release != nil:
		return kindRelease, msg.Release
	default:
		return "", nil
	}
}

// DecodeAndDispatch resolves one inbound Frame into the matching Recv<T> call on p.
func DecodeAndDispatch(p *Processor, f netcore.Frame) {
	switch f.Kind {
	case kindRequest:
		var req Request
		if err := f.Decode(&req); err != nil {
			netLog.Errorw("decode request", "err", err)
			return
		}
		p.RecvRequest(req)
	case kindAck:
		var ack Ack
		if err := f.Decode(&ack); err != nil {
			netLog.Errorw("decode ack", "err", err)
			return
		}
		p.RecvAck(ack)
	case kindRelease:
		var rel Release
		if err := f.Decode(&rel); err != nil {
			netLog.Errorw("decode release", "err", err)
			return
		}
		p.RecvRelease(rel)
	default:
		netLog.Debugw("unknown frame kind", "kind", f.Kind)
	}
}

// TCPReplicaNet implements netcore.ReplicaNet[WireMsg] over a fixed peer connection
// set, indexed by netcore.ReplicaID like pbft.TCPReplicaNet, with self excluded from
// Broadcast/SendIndex.
type TCPReplicaNet struct {
	self  netcore.ReplicaID
	addrs []netcore.Addr
	peers []*tcpnet.Conn
}

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

// ServeProcessor accepts connections on l, dispatching decoded frames into p until ctx
// is cancelled.
func ServeProcessor(ctx context.Context, l *tcpnet.Listener, p *Processor) {
	l.Serve(ctx, func(conn *tcpnet.Conn) {
		conn.Serve(ctx, func(f netcore.Frame) { DecodeAndDispatch(p, f) })
	})
}
