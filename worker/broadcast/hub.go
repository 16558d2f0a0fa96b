package broadcast

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const broadcastBuffer = 256

// Hub keeps the connected browsers and fans lifecycle messages out to them.
// The latest panel messages are replayed to clients that join late.
type Hub struct {
	clients   map[*Client]bool
	clientsMu sync.RWMutex

	broadcast  chan ServerMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	lastMu sync.Mutex
	last   map[string]ServerMessage
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan ServerMessage, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		last:       make(map[string]ServerMessage),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	log.Info("hub started")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.registerClient(c)
		case c := <-h.unregister:
			h.unregisterClient(c)
		case msg := <-h.broadcast:
			h.broadcastMessage(msg)
		}
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues msg for every client. It never blocks; when the queue is
// full the message is dropped.
func (h *Hub) Broadcast(msg ServerMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if replayable(msg.Type) {
		h.lastMu.Lock()
		h.last[msg.Type] = msg
		h.lastMu.Unlock()
	}

	select {
	case h.broadcast <- msg:
	default:
		log.Warnf("hub: broadcast buffer full, dropping %s message", msg.Type)
	}
}

func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func replayable(kind string) bool {
	return kind == MessageTypeStats || kind == MessageTypePool || kind == MessageTypeHistory
}

func (h *Hub) registerClient(c *Client) {
	h.clientsMu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.clientsMu.Unlock()

	clientsGauge.Update(int64(total))
	log.Infof("hub: client %s connected (total: %d)", c.ID, total)

	c.TrySend(ServerMessage{Type: MessageTypeWelcome, Payload: c.ID, Timestamp: time.Now()})
	h.lastMu.Lock()
	replay := make([]ServerMessage, 0, len(h.last))
	for _, msg := range h.last {
		replay = append(replay, msg)
	}
	h.lastMu.Unlock()
	for _, msg := range replay {
		c.TrySend(msg)
	}
}

func (h *Hub) unregisterClient(c *Client) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.closeSend()
		clientsGauge.Update(int64(len(h.clients)))
		log.Infof("hub: client %s disconnected (total: %d)", c.ID, len(h.clients))
	}
}

func (h *Hub) broadcastMessage(msg ServerMessage) {
	h.clientsMu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.RUnlock()

	for _, c := range clients {
		if c.TrySend(msg) {
			messagesSent.Inc(1)
			continue
		}
		// too slow to keep up
		log.Warnf("hub: client %s buffer full, disconnecting", c.ID)
		go h.Unregister(c)
	}
}

func (h *Hub) shutdown() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	log.Infof("hub: shutting down (%d active clients)", len(h.clients))
	for c := range h.clients {
		c.closeSend()
		delete(h.clients, c)
	}
	clientsGauge.Update(0)
}
