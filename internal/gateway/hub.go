package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/flemzord/chatbot/internal/dispatch"
)

// EventType names a presentation event sent over the websocket.
type EventType string

// Event types, one per Presenter callback.
const (
	EventProcessingStarted EventType = "processing_started"
	EventProcessingEnded   EventType = "processing_ended"
	EventAssistantTurn     EventType = "assistant_turn"
	EventStatus            EventType = "status"
)

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

// Event is the JSON frame broadcast to websocket clients.
type Event struct {
	ID      string    `json:"id"`
	Type    EventType `json:"type"`
	Text    string    `json:"text,omitempty"`
	IsError bool      `json:"is_error,omitempty"`
	At      time.Time `json:"at"`
}

var _ dispatch.Presenter = (*Hub)(nil)

// Hub broadcasts engine presentation events to every connected websocket
// client. It implements dispatch.Presenter; a client that cannot keep up
// is disconnected rather than slowing the dispatch down.
type Hub struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		logger:  logger,
		now:     time.Now,
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) ProcessingStarted() { h.broadcast(Event{Type: EventProcessingStarted}) }
func (h *Hub) ProcessingEnded()   { h.broadcast(Event{Type: EventProcessingEnded}) }

func (h *Hub) AssistantTurn(text string) {
	h.broadcast(Event{Type: EventAssistantTurn, Text: text})
}

func (h *Hub) Status(message string, isError bool) {
	h.broadcast(Event{Type: EventStatus, Text: message, IsError: isError})
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev Event) {
	ev.ID = uuid.NewString()
	ev.At = h.now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal event failed", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			go func() { _ = c.conn.Close(websocket.StatusPolicyViolation, "client too slow") }()
			h.logger.Warn("dropping slow websocket client")
		}
	}
}

// ServeHTTP upgrades the request and streams events until the client
// disconnects or the hub is closed. Incoming frames are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusInternalError, "unexpected close")
	}()

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	if !h.register(c) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.unregister(c)

	ctx := conn.CloseRead(r.Context())
	h.logger.Debug("websocket client connected", "remote_addr", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			if err := h.write(ctx, conn, data); err != nil {
				h.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
