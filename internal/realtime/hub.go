// Package realtime fans out per-user events (publish outcomes, notifications) to
// websocket subscribers.
package realtime

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/logging"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

// Event types emitted by the pipeline.
const (
	EventHello               = "hello"
	EventPing                = "ping"
	EventItemUpdated         = "item.updated"
	EventNotificationCreated = "notification.created"
)

type Event struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`

	ItemID         string `json:"itemId,omitempty"`
	AttemptID      string `json:"attemptId,omitempty"`
	NotificationID string `json:"notificationId,omitempty"`
	Status         string `json:"status,omitempty"`

	Payload any    `json:"payload,omitempty"`
	At      string `json:"at"`
}

// Emitter is implemented by Hub. Components depend on this so they can run without a hub.
type Emitter interface {
	Emit(userID string, ev Event)
}

// Nop drops events.
type Nop struct{}

func (Nop) Emit(string, Event) {}

// sender abstracts websocket.Message.Send so the hub can be tested without a socket.
type sender interface {
	send(msg string) error
	close() error
}

type wsConn struct{ c *websocket.Conn }

func (w wsConn) send(msg string) error { return websocket.Message.Send(w.c, msg) }
func (w wsConn) close() error { return w.c.Close() }

type Hub struct {
	mu    sync.Mutex
	conns map[string]map[sender]struct{}
	log   logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		conns: make(map[string]map[sender]struct{}),
		log:   logging.OrDiscard(log),
	}
}

func (h *Hub) add(userID string, c sender) {
	if h == nil || c == nil || strings.TrimSpace(userID) == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.conns[userID]
	if m == nil {
		m = make(map[sender]struct{})
		h.conns[userID] = m
	}
	m[c] = struct{}{}
}

func (h *Hub) remove(userID string, c sender) {
	if h == nil || c == nil || strings.TrimSpace(userID) == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.conns[userID]
	if m == nil {
		return
	}
	delete(m, c)
	if len(m) == 0 {
		delete(h.conns, userID)
	}
}

func (h *Hub) broadcast(userID string, msg []byte) {
	if h == nil || strings.TrimSpace(userID) == "" || len(msg) == 0 {
		return
	}

	h.mu.Lock()
	conns := make([]sender, 0, 8)
	for c := range h.conns[userID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.send(string(msg)); err != nil {
			_ = c.close()
			h.remove(userID, c)
		}
	}
}

// Count returns the number of live subscribers for a user.
func (h *Hub) Count(userID string) int {
	if h == nil || strings.TrimSpace(userID) == "" {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}

func (h *Hub) Emit(userID string, ev Event) {
	if h == nil || strings.TrimSpace(userID) == "" {
		return
	}
	ev.UserID = userID
	if strings.TrimSpace(ev.At) == "" {
		ev.At = time.Now().UTC().Format(time.RFC3339)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		h.log.WithError(err).WithField("userId", userID).Warn("[Realtime] marshal_failed")
		return
	}
	h.log.WithFields(logrus.Fields{
		"userId": userID,
		"type":   ev.Type,
		"itemId": ev.ItemID,
		"status": ev.Status,
		"subs":   h.Count(userID),
	}).Debug("[Realtime] emit")
	h.broadcast(userID, b)
}
