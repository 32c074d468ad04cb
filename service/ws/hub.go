package ws

import (
	"encoding/json"
	"log"
	"sync"
)

// Hub fans out in-app notifications to connected clients. A user may
// hold several connections (phone and tablet); a push goes to all of
// them. Delivery is best effort: a slow client is dropped, never waited
// on.
type Hub struct {
	clients    map[*Client]bool
	userConns  map[uint][]*Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		userConns:  make(map[uint][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.userConns[client.userID] = append(h.userConns[client.userID], client)
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)

				conns := h.userConns[client.userID]
				for i, c := range conns {
					if c == client {
						h.userConns[client.userID] = append(conns[:i], conns[i+1:]...)
						break
					}
				}
				if len(h.userConns[client.userID]) == 0 {
					delete(h.userConns, client.userID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Push sends a payload to every live connection of one user. Unknown or
// disconnected users are a no-op.
func (h *Hub) Push(userID uint, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("ws: marshal push payload: %v", err)
		return
	}

	// send channels are only closed under the write lock (Run's
	// unregister branch), so holding the read lock across the sends
	// keeps a close from landing between lookup and delivery. The
	// sends never block: each has a default arm.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.userConns[userID] {
		select {
		case c.send <- data:
		default:
			// client is not keeping up; let the write pump clean it up
		}
	}
}
