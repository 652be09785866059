package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"quantumlic/internal/infrastructure"
	"quantumlic/internal/tokenauth"
	"quantumlic/pkg/contracts/domain"
)

// Hub fans events out to every connected client. Registration, removal and
// broadcast all flow through one goroutine, so client bookkeeping never races
// a send. A client that cannot drain its queue is dropped instead of stalling
// the loop.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *infrastructure.BusinessMetrics

	quit    chan struct{}
	running bool
}

// NewHub builds a hub. metrics may be nil.
func NewHub(logger *slog.Logger, metrics *infrastructure.BusinessMetrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket_hub")),
		metrics:    metrics,
		quit:       make(chan struct{}),
	}
}

// Start launches the hub loop. Safe to call once.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop shuts the loop down and closes every client queue.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// Register hands a client to the hub loop.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues one event for every connected client. It never blocks the
// caller; when the queue is full the event is dropped and logged.
func (h *Hub) Broadcast(eventType string, data interface{}) {
	payload, err := json.Marshal(newEvent(eventType, data))
	if err != nil {
		h.logger.Error("failed to encode event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- payload:
		if h.metrics != nil {
			h.metrics.WSEventsTotal.Add(context.Background(), 1, metric.WithAttributes(
				attribute.String("event_type", eventType)))
		}
	default:
		h.logger.Warn("event queue full, dropping event",
			slog.String("event_type", eventType))
	}
}

// BroadcastLicenseStatus pushes the cached verification state. Wire it to the
// license manager's change callback.
func (h *Hub) BroadcastLicenseStatus(status domain.LicenseStatus) {
	h.Broadcast(TypeLicenseStatus, status)
}

// BroadcastTokenStatus pushes the token authority's diagnostic view after a
// rotation. The status carries the key prefix only.
func (h *Hub) BroadcastTokenStatus(status tokenauth.Status) {
	h.Broadcast(TypeTokenStatus, status)
}

func (h *Hub) run() {
	for {
		select {
		case <-h.quit:
			h.logger.Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.WSConnectionsActive.Add(context.Background(), 1)
			}
			h.logger.Info("websocket client connected",
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("clients", count))

			h.sendWelcome(client)

		case client := <-h.unregister:
			h.mu.Lock()
			_, known := h.clients[client]
			if known {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()

			if !known {
				// Already evicted by a failed broadcast.
				continue
			}
			if h.metrics != nil {
				h.metrics.WSConnectionsActive.Add(context.Background(), -1)
			}
			h.logger.Info("websocket client disconnected",
				slog.String("client_id", client.id),
				slog.Int("clients", count))

		case payload := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				select {
				case client.send <- payload:
				default:
					h.evict(client)
				}
			}
		}
	}
}

// evict drops a client whose send queue is full. Its pumps observe the closed
// channel and tear the connection down.
func (h *Hub) evict(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSConnectionsActive.Add(context.Background(), -1)
	}
	h.logger.Warn("websocket client evicted, send queue full",
		slog.String("client_id", client.id))
}

func (h *Hub) sendWelcome(client *Client) {
	payload, err := json.Marshal(newEvent(TypeConnected, map[string]string{
		"client_id": client.id,
	}))
	if err != nil {
		return
	}
	select {
	case client.send <- payload:
	default:
	}
}
