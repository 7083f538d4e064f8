package game

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/sugawarayuuta/sonnet"
)

const (
	HUB_QUEUE_SIZE    = 1024
	CLIENT_QUEUE_SIZE = 256
	WRITE_TIMEOUT     = 10 * time.Second
)

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Client struct {
	conn     Conn
	playerID string
	room     string
	send     chan []byte
	stopped  chan struct{}
	once     sync.Once
}

func (c *Client) PlayerID() string { return c.playerID }

// Stopped is closed once the client's writer has exited and its
// connection is no longer written to.
func (c *Client) Stopped() <-chan struct{} { return c.stopped }

// delivery is one queued event. An empty to broadcasts to ev.Room.
type delivery struct {
	ev Event
	to string
}

// Hub fans events out to connected clients. Clients are attached to at most
// one room; broadcasts reach the clients attached to the event's room.
type Hub struct {
	clients    map[*Client]bool
	queue      chan delivery
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		queue:      make(chan delivery, HUB_QUEUE_SIZE),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves unregistrations and deliveries until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			log.Println("[WS] Hub stopped")
			return

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				log.Printf("[WS] Client disconnected: %s (Total: %d)", client.playerID, len(h.clients))
			}
			h.mu.Unlock()

		case d := <-h.queue:
			h.deliver(d)
		}
	}
}

func (h *Hub) deliver(d delivery) {
	data, err := sonnet.Marshal(d.ev)
	if err != nil {
		log.Printf("[WS] Marshal error for %s: %v", d.ev.Type, err)
		return
	}

	var lagging []*Client
	h.mu.RLock()
	for client := range h.clients {
		if d.to != "" {
			if client.playerID != d.to {
				continue
			}
		} else if d.ev.Room == "" || client.room != d.ev.Room {
			continue
		}
		select {
		case client.send <- data:
		default:
			if d.ev.Type == EventRaceProgress {
				continue
			}
			lagging = append(lagging, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range lagging {
		h.evict(client, d.ev.Type)
	}
}

// evict disconnects a client that cannot keep up. Only progress snapshots
// may be skipped; losing any other event would leave the client with a
// wrong view, so it has to reconnect and rejoin for a fresh room_state.
func (h *Hub) evict(client *Client, lost EventType) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()
	if !ok {
		return
	}
	log.Printf("[WS] Send queue full for %s on %s, disconnecting", client.playerID, lost)
	client.conn.Close()
	client.close()
}

// Broadcast queues ev for every client attached to ev.Room. Progress
// snapshots are dropped when the queue is full; other events wait for room.
func (h *Hub) Broadcast(ev Event) {
	h.enqueue(delivery{ev: ev}, ev.Type == EventRaceProgress)
}

// SendTo queues ev for playerID's connections only.
func (h *Hub) SendTo(playerID string, ev Event) {
	h.enqueue(delivery{ev: ev, to: playerID}, false)
}

func (h *Hub) enqueue(d delivery, droppable bool) {
	if droppable {
		select {
		case h.queue <- d:
		default:
			log.Println("[WS] Broadcast channel full, dropping progress snapshot")
		}
		return
	}
	select {
	case h.queue <- d:
	case <-h.done:
	}
}

// Attach routes room broadcasts to playerID's connections.
func (h *Hub) Attach(playerID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if client.playerID == playerID {
			client.room = room
		}
	}
}

// Detach stops room broadcasts to playerID, unless the player has since
// moved to another room.
func (h *Hub) Detach(playerID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if client.playerID == playerID && client.room == room {
			client.room = ""
		}
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RegisterClient adds a connection for playerID and starts its writer. The
// client is routable as soon as this returns.
func (h *Hub) RegisterClient(conn Conn, playerID string) *Client {
	client := &Client{
		conn:     conn,
		playerID: playerID,
		send:     make(chan []byte, CLIENT_QUEUE_SIZE),
		stopped:  make(chan struct{}),
	}
	go client.writePump()

	select {
	case <-h.done:
		client.close()
		return client
	default:
	}

	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	log.Printf("[WS] Client connected: %s (Total: %d)", playerID, total)
	return client
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// writePump writes queued messages in order until the client is closed.
func (c *Client) writePump() {
	defer close(c.stopped)
	failed := false
	for data := range c.send {
		if failed {
			continue
		}
		c.conn.SetWriteDeadline(time.Now().Add(WRITE_TIMEOUT))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[WS] Write error for user %s: %v", c.playerID, err)
			c.conn.Close()
			failed = true
		}
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.send) })
}
