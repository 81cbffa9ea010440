package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

const pingInterval = 30 * time.Second

func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil && h != "" {
		host = h
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// allowed reports whether r may open a subscription. Loopback is always allowed for local
// development; everything else must present X-Internal-WS-Secret.
func allowed(r *http.Request, secret string) bool {
	if isLoopback(r.RemoteAddr) {
		return true
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return false
	}
	return strings.TrimSpace(r.Header.Get("X-Internal-WS-Secret")) == secret
}

// Handler serves the websocket endpoint. URL: /api/events/ws?userId=...
func (h *Hub) Handler(secret string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowed(r, secret) {
			h.log.WithFields(logrus.Fields{"remote": r.RemoteAddr, "host": r.Host}).Warn("[RealtimeWS] forbidden")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		userID := strings.TrimSpace(r.URL.Query().Get("userId"))
		if userID == "" {
			http.Error(w, "missing_userId", http.StatusBadRequest)
			return
		}

		// The connection is proxied, so the default Origin==Host check would reject it.
		srv := websocket.Server{
			Handshake: func(*websocket.Config, *http.Request) error { return nil },
			Handler: func(c *websocket.Conn) {
				h.serve(userID, r.RemoteAddr, wsConn{c: c})
			},
		}
		srv.ServeHTTP(w, r)
	})
}

func (h *Hub) serve(userID, remote string, c wsConn) {
	log := h.log.WithFields(logrus.Fields{"userId": userID, "remote": remote})
	log.Info("[RealtimeWS] connect")
	h.add(userID, c)
	defer h.remove(userID, c)
	defer log.Info("[RealtimeWS] disconnect")

	hello := Event{Type: EventHello, UserID: userID, At: time.Now().UTC().Format(time.RFC3339)}
	if b, err := json.Marshal(hello); err == nil {
		_ = c.send(string(b))
	}

	done := make(chan struct{})
	var doneOnce sync.Once
	closeDone := func() { doneOnce.Do(func() { close(done) }) }
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				b, _ := json.Marshal(Event{Type: EventPing, UserID: userID, At: time.Now().UTC().Format(time.RFC3339)})
				if err := c.send(string(b)); err != nil {
					closeDone()
					return
				}
			}
		}
	}()

	// Read loop keeps the connection open and detects disconnects.
	for {
		var ignored string
		if err := websocket.Message.Receive(c.c, &ignored); err != nil {
			closeDone()
			return
		}
	}
}
