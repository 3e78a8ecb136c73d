// Package events carries change notifications from the API server to
// connected clients over a websocket.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event types
const (
	SessionsChanged = "sessions_changed"
	MessagesChanged = "messages_changed"
	ModelChanged    = "model_changed"
)

// Event tells subscribers that server state changed
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

const (
	writeTimeout = 5 * time.Second
	// Events queued per subscriber before it is considered stalled
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// subscriber is one connection with its own writer goroutine
type subscriber struct {
	conn *websocket.Conn
	send chan Event
}

// Hub fans events out to every connected websocket
type Hub struct {
	logger *slog.Logger
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades the request and keeps the connection until the peer leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{conn: conn, send: make(chan Event, sendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug("event subscriber connected", "remote", r.RemoteAddr, "subscribers", count)
	go h.writeLoop(sub)

	// Drain reads so close frames and pings are processed
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(sub)
}

// writeLoop delivers queued events until the queue is closed, then says goodbye
func (h *Hub) writeLoop(sub *subscriber) {
	defer sub.conn.Close()

	for ev := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := sub.conn.WriteJSON(ev); err != nil {
			h.logger.Debug("dropping event subscriber", "error", err)
			h.remove(sub)
			return
		}
	}
	sub.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(writeTimeout))
}

// Publish queues ev for every subscriber without waiting on the network.
// A subscriber whose queue is full is disconnected.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.send <- ev:
		default:
			h.logger.Warn("dropping stalled event subscriber", "queued", len(sub.send))
			delete(h.subs, sub)
			close(sub.send)
			sub.conn.Close()
		}
	}
}

// Subscribers returns the number of connected subscribers
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.send)
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
}

// Subscription is a client connection to a Hub
type Subscription struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Dial connects to the hub at url (ws:// or wss://)
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Subscription, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	sub := &Subscription{
		conn:   conn,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
		logger: logger,
	}
	go sub.readLoop()

	logger.Info("subscribed to server events", "url", url)
	return sub, nil
}

// Events returns the channel of received events. It is closed when the
// connection ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close disconnects from the hub
func (s *Subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}

func (s *Subscription) readLoop() {
	defer close(s.events)
	for {
		var ev Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.logger.Warn("event stream ended", "error", err)
			}
			return
		}
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}
