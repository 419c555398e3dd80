package ws

import (
	"context"
	"sync"

	"points_ledger/internal/domain"
	"points_ledger/internal/syncengine"

	"github.com/prometheus/client_golang/prometheus"
)

var connectedClients = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "ws_connected_clients",
		Help: "Open account websocket connections",
	},
)

func init() {
	prometheus.MustRegister(connectedClients)
}

// Subscriber is the account feed a client listens to.
type Subscriber interface {
	Subscribe(ctx context.Context, accountID string, onUpdate func(*domain.Account), onError func(error)) syncengine.Unsubscribe
	PendingCount(accountID string) (int, error)
}

// Hub tracks open clients so they can be closed on shutdown.
type Hub struct {
	feed    Subscriber
	mu      sync.Mutex
	clients map[*Client]struct{}
}

func NewHub(feed Subscriber) *Hub {
	return &Hub{
		feed:    feed,
		clients: make(map[*Client]struct{}),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	connectedClients.Inc()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		connectedClients.Dec()
	}
}

// Count returns the number of open clients, optionally for one account.
func (h *Hub) Count(accountID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if accountID == "" {
		return len(h.clients)
	}
	n := 0
	for c := range h.clients {
		if c.AccountID == accountID {
			n++
		}
	}
	return n
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
