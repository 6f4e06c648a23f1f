/*
Package realtime republishes resolved profiles to websocket observers.

PURPOSE:
  The thin projection layer between the backing store's change feed and
  connected UI clients. Each member has a room; every committed profile
  write is re-resolved at read time and pushed to that room. Delivery is
  eventually-consistent, best-effort push - never a write acknowledgment.

PIECES:
  hub.go:       Connection registry and room fan-out
  client.go:    One websocket connection (read/write pumps)
  projector.go: Store subscription -> resolved profile -> room publish

SEE ALSO:
  - store/mongo: The Subscribe producer
  - api/server.go: The /ws attach point
*/
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// MESSAGES
// =============================================================================

// Message is the envelope pushed to observers.
type Message struct {
	Type      string          `json:"type"`
	MemberID  ledger.MemberID `json:"memberId,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	// TypeProfile carries a freshly resolved profile view.
	TypeProfile = "profile"
	// TypeCatalog carries the current offerable reward list.
	TypeCatalog = "catalog"
	// TypeWelcome confirms a successful attach.
	TypeWelcome = "welcome"
)

// =============================================================================
// HUB
// =============================================================================

// Hub tracks connected clients and fans messages out to per-member rooms.
// OnFirstJoin/OnLastLeave fire when a member's room transitions between
// empty and occupied; the projector uses them to manage subscriptions.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	outbound   chan targeted
	done       chan struct{}
	closeOnce  sync.Once

	// guarded by mu so publishers outside Run can read room state
	mu      sync.RWMutex
	clients map[*Client]bool
	rooms   map[ledger.MemberID]map[*Client]bool

	OnFirstJoin func(id ledger.MemberID)
	OnLastLeave func(id ledger.MemberID)

	log *logrus.Logger
}

type targeted struct {
	member ledger.MemberID // empty = all clients
	data   []byte
}

func NewHub(log *logrus.Logger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan targeted, 64),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		rooms:      make(map[ledger.MemberID]map[*Client]bool),
		log:        log,
	}
}

// Run processes registrations and fan-out until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case msg := <-h.outbound:
			h.deliver(msg)
		case <-h.done:
			h.closeAll()
			return
		}
	}
}

// Stop shuts the hub down and closes every connection.
func (h *Hub) Stop() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Publish queues a message for one member's room.
func (h *Hub) Publish(id ledger.MemberID, msgType string, data []byte) {
	h.enqueue(targeted{member: id, data: envelope(msgType, id, data)})
}

// Broadcast queues a message for every connected client.
func (h *Hub) Broadcast(msgType string, data []byte) {
	h.enqueue(targeted{data: envelope(msgType, "", data)})
}

func (h *Hub) enqueue(msg targeted) {
	select {
	case h.outbound <- msg:
	case <-h.done:
	}
}

func envelope(msgType string, id ledger.MemberID, data []byte) []byte {
	out, _ := json.Marshal(Message{
		Type:      msgType,
		MemberID:  id,
		Timestamp: nowUnixMilli(),
		Data:      data,
	})
	return out
}

// =============================================================================
// INTERNAL
// =============================================================================

func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	first := h.rooms[c.MemberID] == nil
	if first {
		h.rooms[c.MemberID] = make(map[*Client]bool)
	}
	h.rooms[c.MemberID][c] = true
	h.mu.Unlock()

	h.log.WithField("member", c.MemberID).Debug("observer attached")

	if first && h.OnFirstJoin != nil {
		h.OnFirstJoin(c.MemberID)
	}

	h.sendTo(c, envelope(TypeWelcome, c.MemberID, nil))
}

func (h *Hub) unregisterClient(c *Client) {
	h.mu.Lock()
	_, known := h.clients[c]
	var last bool
	if known {
		delete(h.clients, c)
		close(c.send)
		if room := h.rooms[c.MemberID]; room != nil {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, c.MemberID)
				last = true
			}
		}
	}
	h.mu.Unlock()

	if !known {
		return
	}
	h.log.WithField("member", c.MemberID).Debug("observer detached")

	if last && h.OnLastLeave != nil {
		h.OnLastLeave(c.MemberID)
	}
}

func (h *Hub) deliver(msg targeted) {
	h.mu.RLock()
	var targets []*Client
	if msg.member == "" {
		for c := range h.clients {
			targets = append(targets, c)
		}
	} else {
		for c := range h.rooms[msg.member] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendTo(c, msg.data)
	}
}

// sendTo drops the client if its send buffer is full; a stalled reader
// must not back-pressure the whole hub.
func (h *Hub) sendTo(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.unregisterClient(c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.rooms = make(map[ledger.MemberID]map[*Client]bool)
}
