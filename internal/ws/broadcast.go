package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/lukelocksmith/timemonitor/internal/session"
)

type client struct {
	conn  *websocket.Conn
	send  chan []byte
	scope session.Scope
}

func newClient(conn *websocket.Conn, scope session.Scope) *client {
	c := &client{
		conn:  conn,
		send:  make(chan []byte, 64),
		scope: scope,
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans session events and snapshots out to connected
// observers, filtered per observer scope. Events an observer's scope does
// not allow are silently dropped, never queued.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool
	cache   *session.Cache
}

func NewBroadcaster(cache *session.Cache) *Broadcaster {
	return &Broadcaster{
		clients: make(map[*client]bool),
		cache:   cache,
	}
}

// AddClient registers a connection and immediately sends it one scoped
// snapshot of all currently active sessions, so its initial state does
// not depend on poll cycle timing.
func (b *Broadcaster) AddClient(conn *websocket.Conn, scope session.Scope) *client {
	c := newClient(conn, scope)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	data, err := json.Marshal(WSMessage{
		Type: MsgSnapshot,
		Payload: SnapshotPayload{
			Sessions: scope.FilterSlice(b.cache.All()),
		},
	})
	if err != nil {
		log.Printf("snapshot marshal error: %v", err)
		return c
	}

	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// Publish fans one canonical event out to every observer whose scope
// allows the session's user.
func (b *Broadcaster) Publish(ev *session.Event) {
	if ev == nil || ev.Record == nil {
		return
	}
	data, err := json.Marshal(WSMessage{
		Type:    messageTypeFor(ev.Type),
		Payload: SessionEventPayload{Session: ev.Record},
	})
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}

	for _, c := range b.clientList() {
		if !c.scope.Allows(ev.Record.UserID) {
			continue
		}
		b.trySend(c, data)
	}
}

// PublishSnapshot sends a full active-session snapshot to every observer,
// scoped per observer. Sent once per poll cycle so that a client that
// missed a delta converges within one cycle.
func (b *Broadcaster) PublishSnapshot(records []*session.Record) {
	for _, c := range b.clientList() {
		data, err := json.Marshal(WSMessage{
			Type: MsgSnapshot,
			Payload: SnapshotPayload{
				Sessions: c.scope.FilterSlice(records),
			},
		})
		if err != nil {
			log.Printf("snapshot marshal error: %v", err)
			return
		}
		b.trySend(c, data)
	}
}

func (b *Broadcaster) trySend(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		// Client can't keep up, disconnect it
		log.Printf("ws client too slow, disconnecting")
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) clientList() []*client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	return clients
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
