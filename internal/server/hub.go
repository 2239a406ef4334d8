package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/moverse/agentdesk/internal/bus"
	"go.uber.org/zap"
)

const clientSendBuffer = 64

// Envelope is the JSON frame pushed to browsers. The payload mirrors the
// bus event's payload; browsers refetch through the REST API on view.*
// kinds rather than patching state from the payload.
type Envelope struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans bus events out to every connected browser tab. A tab that
// cannot keep up is dropped; it reconnects and refetches.
type Hub struct {
	mu      sync.Mutex
	bus     *bus.Bus
	logger  *zap.Logger
	clients map[*wsClient]struct{}
	cancel  context.CancelFunc
}

// NewHub creates a hub over the bus.
func NewHub(b *bus.Bus, logger *zap.Logger) *Hub {
	return &Hub{
		bus:     b,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Start subscribes to the event namespaces the browser renders from and
// begins broadcasting.
func (h *Hub) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	for _, prefix := range []string{"view.", "message.", "feed.status_changed"} {
		ch, unsub := h.bus.Subscribe(prefix, 256)
		go func() {
			defer unsub()
			for {
				select {
				case evt := <-ch:
					h.broadcast(evt)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

// Stop ends broadcasting and closes every connection.
func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// Attach takes ownership of an upgraded connection and pumps events to
// it until the peer goes away.
func (h *Hub) Attach(conn *websocket.Conn) {
	client := &wsClient{conn: conn, send: make(chan []byte, clientSendBuffer)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writePump(client)
	go h.readPump(client)
}

// ClientCount returns the number of attached connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(evt bus.Event) {
	frame, err := json.Marshal(Envelope{
		Kind:      evt.Kind,
		Timestamp: evt.Timestamp,
		Payload:   evt.Payload,
	})
	if err != nil {
		h.logger.Warn("unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			// Slow tab: drop it, the reconnect refetches.
			close(c.send)
			delete(h.clients, c)
		}
	}
}

func (h *Hub) detach(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()
}

func (h *Hub) writePump(c *wsClient) {
	defer func() { _ = c.conn.Close() }()
	for frame := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (h *Hub) readPump(c *wsClient) {
	defer h.detach(c)
	for {
		// The browser never sends application frames; the read loop only
		// notices disconnects and answers pings.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
