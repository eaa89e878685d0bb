// Package tcpnet is the session's TCP transport: a length-delimited framed connection
// wrapper and a bind/accept listener, grounded on netcore's Frame wire format and the
// teacher's internal/cerera/network listener style (accept loop + per-connection
// goroutine). Each engine (pbft, mutex, cops) adapts this into its own
// netcore.ReplicaNet/ClientNet by choosing its own Frame.Kind constants and decode
// dispatch.
package tcpnet

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/cerera/replicore/internal/cerera/logger"
	"github.com/cerera/replicore/internal/cerera/netcore"
)

var log = logger.Named("tcpnet")

// Conn wraps one framed TCP connection. Writes are serialized; reads are drained by
// Serve until the connection errs or closes.
type Conn struct {
	raw net.Conn
	pid string
	mu  sync.Mutex
}

// NewConn wraps an already-established net.Conn, tagging every outgoing frame with pid
// (replconfig.NetworkConfig.PID).
func NewConn(raw net.Conn, pid string) *Conn { return &Conn{raw: raw, pid: pid} }

// Send writes kind/body as one length-delimited frame, tagged with this connection's
// protocol id.
func (c *Conn) Send(kind string, body any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return netcore.WriteFrame(c.raw, kind, c.pid, body)
}

// Serve reads frames until the connection errors (including on close), invoking handle
// for each. It blocks; call it in its own goroutine. A cancelled ctx closes the
// connection to unblock the read.
func (c *Conn) Serve(ctx context.Context, handle func(netcore.Frame)) {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.raw.Close()
		case <-stop:
		}
	}()
	defer close(stop)
	for {
		f, err := netcore.ReadFrame(c.raw)
		if err != nil {
			log.Debugw("connection closed", "err", err)
			return
		}
		handle(f)
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.raw.Close() }

// Dial opens a framed TCP connection to addr ("host:port"), tagging outgoing frames
// with pid.
func Dial(addr, pid string) (*Conn, error) {
	raw, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcpnet: dial %s: %w", addr, err)
	}
	return NewConn(raw, pid), nil
}

// Listener accepts framed TCP connections on a bound host:port.
type Listener struct {
	raw net.Listener
	pid string
}

// Listen binds host:port, spec.md §6's "0.0.0.0:<port>" acceptor. Accepted connections
// tag their outgoing frames with pid.
func Listen(host string, port int, pid string) (*Listener, error) {
	raw, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("tcpnet: listen %s:%d: %w", host, port, err)
	}
	return &Listener{raw: raw, pid: pid}, nil
}

// Accept blocks for the next inbound connection.
func (l *Listener) Accept() (*Conn, error) {
	raw, err := l.raw.Accept()
	if err != nil {
		return nil, err
	}
	return NewConn(raw, l.pid), nil
}

// Addr reports the bound address, useful when port 0 picked an ephemeral one.
func (l *Listener) Addr() net.Addr { return l.raw.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.raw.Close() }

// Serve accepts connections in a loop until ctx is cancelled, handing each to onConn in
// its own goroutine.
func (l *Listener) Serve(ctx context.Context, onConn func(*Conn)) {
	go func() {
		<-ctx.Done()
		l.raw.Close()
	}()
	for {
		conn, err := l.Accept()
		if err != nil {
			log.Debugw("listener stopped", "err", err)
			return
		}
		go onConn(conn)
	}
}
