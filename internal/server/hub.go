package server

import (
	"log"
	"sync"

	"emberchat/internal/protocol"
)

// Hub tracks authenticated clients and their room memberships, and fans
// events out to room members. Lifecycle flows through the Register and
// Unregister channels; room routing is synchronous under the lock.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // by user ID
	rooms   map[string]map[string]*Client // room ID -> user ID -> client

	Register   chan *Client
	Unregister chan *Client
	Quit       chan struct{}
}

func NewHub() *Hub {
	log.Println("[HUB] Initializing new Hub instance...")
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Quit:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	log.Println("[HUB] Main loop started. Listening for events...")
	for {
		select {
		case <-h.Quit:
			log.Println("[HUB] Quit signal received. Shutting down all client connections...")
			h.mu.Lock()
			for _, client := range h.clients {
				h.cleanupClient(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.Register:
			h.mu.Lock()
			if oldClient, ok := h.clients[client.UserID]; ok {
				log.Printf("[HUB] Overwriting existing session for user: %s", client.Username)
				h.cleanupClient(oldClient)
			}
			h.clients[client.UserID] = client
			log.Printf("[HUB] Registered %s. Total active: %d", client.Username, len(h.clients))
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.UserID]; ok && current == client {
				h.cleanupClient(client)
				log.Printf("[HUB] Unregistered %s. Total active: %d", client.Username, len(h.clients))
			}
			h.mu.Unlock()
		}
	}
}

// cleanupClient runs under h.mu.
func (h *Hub) cleanupClient(c *Client) {
	c.once.Do(func() {
		delete(h.clients, c.UserID)
		for _, members := range h.rooms {
			delete(members, c.UserID)
		}
		c.Conn.Close()
		close(c.Send)
	})
}

// JoinRoom attaches an authenticated client to a room's broadcast set.
func (h *Hub) JoinRoom(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[roomID] = members
	}
	members[c.UserID] = c
}

func (h *Hub) LeaveRoom(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[roomID]; ok {
		delete(members, c.UserID)
	}
}

// BroadcastToRoom delivers one event to every connected member of the room.
// Slow consumers are evicted rather than allowed to stall the hub.
func (h *Hub) BroadcastToRoom(roomID string, evt protocol.Event) {
	payload, err := protocol.EncodeEvent(evt)
	if err != nil {
		log.Printf("[HUB] Failed to encode %s event: %v", evt.EventKind(), err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.rooms[roomID] {
		select {
		case client.Send <- payload:
		default:
			log.Printf("[HUB] WARNING: Client %s buffer full. Evicting slow consumer.", client.Username)
			go func(c *Client) { h.Unregister <- c }(client)
		}
	}
}

// SendTo delivers one event to a single client.
func (h *Hub) SendTo(c *Client, evt protocol.Event) {
	payload, err := protocol.EncodeEvent(evt)
	if err != nil {
		log.Printf("[HUB] Failed to encode %s event: %v", evt.EventKind(), err)
		return
	}

	select {
	case c.Send <- payload:
	default:
		log.Printf("[HUB] WARNING: Client %s buffer full on direct send.", c.Username)
	}
}
