package vizserver

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/echolens/sonavision/internal/observe"
)

// sendBuffer is the per-client outbound queue length. A client that cannot
// keep up loses frames, not the connection.
const sendBuffer = 8

// client is one connected websocket viewer.
type client struct {
	id   string
	send chan []byte
}

// hub fans published messages out to all connected clients. Slow clients are
// skipped, never waited on: the writer of a real-time feed must not block.
type hub struct {
	mu      sync.Mutex
	clients map[string]*client
	metrics *observe.Metrics
}

func newHub(m *observe.Metrics) *hub {
	return &hub{
		clients: make(map[string]*client),
		metrics: m,
	}
}

// add registers a new client and returns it.
func (h *hub) add() *client {
	c := &client{
		id:   uuid.NewString(),
		send: make(chan []byte, sendBuffer),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.metrics.VizClients.Add(context.Background(), 1)
	return c
}

// remove unregisters a client and closes its send channel.
func (h *hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	if ok {
		close(c.send)
		h.metrics.VizClients.Add(context.Background(), -1)
	}
}

// broadcast enqueues msg for every client. Clients with a full queue are
// skipped; the next message replaces what they missed.
func (h *hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// count returns the number of connected clients.
func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
