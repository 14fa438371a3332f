package monitor

import "sync"

const clientBuffer = 32

type client struct {
	send chan []byte
}

// hub fans messages out to websocket clients. A client that falls behind
// loses messages rather than slowing the bridge loop.
type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) register() *client {
	c := &client{send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast returns the number of clients that missed msg.
func (h *hub) broadcast(msg []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	missed := 0
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			missed++
		}
	}
	return missed
}
