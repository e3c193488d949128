package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/story-pipeline/internal/observability"
	"github.com/lexiqai/story-pipeline/internal/story"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	// Consumers are same-host players and dashboards
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StoryEvent is pushed to feed subscribers when a story is persisted
type StoryEvent struct {
	Type          string `json:"type"`
	StoryID       string `json:"story_id"`
	PriorityClass string `json:"priority_class"`
	Scenes        int    `json:"scenes"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans story events out to websocket subscribers
type Hub struct {
	mu      sync.Mutex
	clients map[*subscriber]struct{}
	closed  bool
	logger  zerolog.Logger
}

// NewHub creates an empty Hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*subscriber]struct{}),
		logger:  observability.Component("story-feed"),
	}
}

// ServeWS upgrades the request and streams events until the client leaves
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade to WebSocket")
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.add(sub) {
		conn.Close()
		return
	}
	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Feed subscriber connected")

	go h.writeLoop(sub)

	// Incoming messages are ignored; reading surfaces the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			h.remove(sub)
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	defer sub.conn.Close()
	for msg := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(sub)
			return
		}
	}
	sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
	sub.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) add(sub *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[sub] = struct{}{}
	return true
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[sub]; ok {
		delete(h.clients, sub)
		close(sub.send)
	}
}

// Publish sends a story event to every subscriber. Subscribers whose buffer
// is full are dropped.
func (h *Hub) Publish(s *story.Story) {
	msg, err := json.Marshal(StoryEvent{
		Type:          "story_created",
		StoryID:       s.ID,
		PriorityClass: s.SourcePriorityClass.String(),
		Scenes:        len(s.Scenes),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode story event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.clients {
		select {
		case sub.send <- msg:
		default:
			delete(h.clients, sub)
			close(sub.send)
			h.logger.Warn().Msg("Dropped slow feed subscriber")
		}
	}
}

// Count returns the number of connected subscribers
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for sub := range h.clients {
		delete(h.clients, sub)
		close(sub.send)
	}
}
