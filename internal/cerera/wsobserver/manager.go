// Package wsobserver fans out PBFT replies and COPS PutOk confirmations to WebSocket
// observers, adapted from internal/cerera/network's WsManager: the same
// register/unregister/broadcast channel trio, generalized from one blockchain's
// DataChannel to any JSON-encodable event this session wants to publish.
package wsobserver

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/btcsuite/websocket"
	"github.com/cerera/replicore/internal/cerera/logger"
)

var obsLogger = logger.Named("wsobserver")

// Kind tags an outgoing event so observers can distinguish PBFT replies from COPS
// confirmations without decoding the payload first.
type Kind string

const (
	KindPBFTReply Kind = "pbft.reply"
	KindCOPSPutOk Kind = "cops.putok"
)

// Event is the self-describing envelope published to every connected observer.
type Event struct {
	Kind    Kind        `json:"kind"`
	Payload interface{} `json:"payload"`
}

// Manager fans an Event out to every connected WebSocket client.
type Manager struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.Mutex
}

// New builds an unstarted Manager; call Run to begin fanning out events.
func New() *Manager {
	return &Manager{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Event, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Register and Unregister add/drop a connection from the fan-out set.
func (m *Manager) Register(conn *websocket.Conn)   { m.register <- conn }
func (m *Manager) Unregister(conn *websocket.Conn) { m.unregister <- conn }

// Publish enqueues kind/payload for delivery to every connected observer.
func (m *Manager) Publish(kind Kind, payload interface{}) {
	m.broadcast <- Event{Kind: kind, Payload: payload}
}

// Run drains register/unregister/broadcast until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case conn := <-m.register:
			m.mutex.Lock()
			m.clients[conn] = true
			m.mutex.Unlock()
			obsLogger.Infow("observer connected", "totalObservers", len(m.clients))

		case conn := <-m.unregister:
			m.mutex.Lock()
			if _, ok := m.clients[conn]; ok {
				delete(m.clients, conn)
				conn.Close()
			}
			m.mutex.Unlock()
			obsLogger.Infow("observer disconnected", "totalObservers", len(m.clients))

		case event := <-m.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				obsLogger.Errorw("marshal event", "err", err)
				continue
			}
			m.mutex.Lock()
			for conn := range m.clients {
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					obsLogger.Errorw("write to observer", "err", err)
					conn.Close()
					delete(m.clients, conn)
				}
			}
			m.mutex.Unlock()
		}
	}
}
