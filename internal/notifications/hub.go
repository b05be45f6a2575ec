package notifications

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// Streams are one-directional: the server pushes notification events,
// the client only keeps the socket alive. A stale connection is cut
// after idleTimeout without any client frame.
const (
	idleTimeout = 5 * time.Minute
	sendBuffer  = 16
)

// Event is the wire payload pushed to notification subscribers.
type Event struct {
	Event          string      `json:"event"`
	Notification   interface{} `json:"notification,omitempty"`
	NotificationID string      `json:"notification_id,omitempty"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan Event
}

// Hub fans notification events out to each user's open streams. A user
// may hold several at once (multiple devices).
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscriber]struct{})}
}

// Serve upgrades the request to a WebSocket and streams the user's
// events until the client disconnects or goes idle.
func (h *Hub) Serve(userID string, w http.ResponseWriter, r *http.Request) {
	server := websocket.Server{
		Handshake: func(config *websocket.Config, req *http.Request) error {
			config.Protocol = append(config.Protocol, "json")
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			sub := &subscriber{
				conn: conn,
				send: make(chan Event, sendBuffer),
			}

			h.attach(userID, sub)
			defer h.detach(userID, sub)

			go h.writeLoop(sub)
			h.readLoop(sub)
		},
	}

	server.ServeHTTP(w, r)
}

// Broadcast delivers an event to every open stream of the given user.
// Slow consumers are skipped rather than blocking the caller.
func (h *Hub) Broadcast(userID string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[userID] {
		select {
		case sub.send <- event:
		default:
		}
	}
}

func (h *Hub) attach(userID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*subscriber]struct{})
	}
	h.subs[userID][sub] = struct{}{}
}

func (h *Hub) detach(userID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs := h.subs[userID]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subs, userID)
		}
	}
	close(sub.send)
	_ = sub.conn.Close()
}

func (h *Hub) writeLoop(sub *subscriber) {
	for event := range sub.send {
		if err := websocket.JSON.Send(sub.conn, event); err != nil {
			break
		}
	}
}

func (h *Hub) readLoop(sub *subscriber) {
	defer sub.conn.Close()

	for {
		_ = sub.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		var discard interface{}
		if err := websocket.JSON.Receive(sub.conn, &discard); err != nil {
			break
		}
	}
}
