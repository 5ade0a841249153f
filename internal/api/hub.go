package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"taskmate/internal/models"
	"taskmate/internal/push"
)

// Hub is a small STOMP broker over WebSocket: clients subscribe to
// destinations and receive every message published to them.
type Hub struct {
	upgrader websocket.Upgrader
	dest     push.Destinations
	verify   func(token string) (models.UserProfile, error)
	log      *logrus.Entry

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]string // subscription id -> destination
}

// NewHub creates a hub. verify resolves the bearer token presented on
// CONNECT (or on the upgrade request) to its user; a session may only
// subscribe to its own user queue under dest.
func NewHub(dest push.Destinations, verify func(string) (models.UserProfile, error), log *logrus.Entry) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		dest:     dest,
		verify:   verify,
		log:      log,
		clients:  map[*hubClient]struct{}{},
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	c := &hubClient{ws: ws, subs: map[string]string{}}
	defer ws.Close()

	connect, err := c.read()
	if err != nil || (connect.Command != push.CmdConnect && connect.Command != "STOMP") {
		_ = c.write(push.NewFrame(push.CmdError, "message", "expected CONNECT"))
		return
	}
	token := connect.Header("Authorization")
	if token == "" {
		token = r.Header.Get("Authorization")
	}
	if token == "" {
		_ = c.write(push.NewFrame(push.CmdError, "message", "missing token"))
		return
	}
	user, err := h.verify(stripBearer(token))
	if err != nil {
		_ = c.write(push.NewFrame(push.CmdError, "message", "invalid token"))
		return
	}
	ownQueue := h.dest.UserQueue(user.ID)
	if err := c.write(push.NewFrame(push.CmdConnected, "version", "1.2", "server", "taskmate")); err != nil {
		return
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
	}()

	for {
		f, err := c.read()
		if err != nil {
			return
		}
		switch f.Command {
		case push.CmdSubscribe:
			dest := f.Header("destination")
			if strings.HasPrefix(dest, h.dest.UserQueuePrefix) && dest != ownQueue {
				h.log.WithFields(logrus.Fields{"user_id": user.ID, "destination": dest}).Warn("refused foreign queue subscription")
				_ = c.write(push.NewFrame(push.CmdError, "message", "access denied to "+dest))
				return
			}
			c.mu.Lock()
			c.subs[f.Header("id")] = dest
			c.mu.Unlock()
		case push.CmdUnsubscribe:
			c.mu.Lock()
			delete(c.subs, f.Header("id"))
			c.mu.Unlock()
		case push.CmdDisconnect:
			if receipt := f.Header("receipt"); receipt != "" {
				_ = c.write(push.NewFrame(push.CmdReceipt, "receipt-id", receipt))
			}
			return
		}
	}
}

// Publish sends payload as JSON to every subscription on dest and returns
// the number of deliveries.
func (h *Hub) Publish(dest string, payload any) int {
	body, err := json.Marshal(payload)
	if err != nil {
		h.log.WithError(err).Error("encode push payload")
		return 0
	}

	h.mu.RLock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		for _, id := range c.subscriptionsFor(dest) {
			f := push.NewFrame(push.CmdMessage,
				"destination", dest,
				"subscription", id,
				"message-id", uuid.NewString(),
				"content-type", "application/json",
			)
			f.Body = body
			if err := c.write(f); err != nil {
				h.log.WithError(err).Debug("push delivery failed")
				continue
			}
			delivered++
		}
	}
	return delivered
}

// Clients is the number of connected STOMP sessions.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers counts subscriptions on dest across all sessions.
func (h *Hub) Subscribers(dest string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		n += len(c.subscriptionsFor(dest))
	}
	return n
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.ws.Close()
	}
}

func (c *hubClient) subscriptionsFor(dest string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id, d := range c.subs {
		if d == dest {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *hubClient) read() (push.Frame, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return push.Frame{}, err
		}
		f, err := push.Decode(data)
		if errors.Is(err, push.ErrHeartbeat) {
			continue
		}
		return f, err
	}
}

func (c *hubClient) write(f push.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, f.Encode())
}

func stripBearer(h string) string {
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return h
}
