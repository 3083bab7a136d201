// File: internal/infra/adapters/push/hub.go
package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"dental-backoffice/internal/domain/ports/adapter"
	"dental-backoffice/internal/infra/metrics"
)

var _ adapter.Notifier = (*Hub)(nil)

var ErrNoConnection = errors.New("push: connection not found")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

// Envelope is the wire format of every pushed message.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type conn struct {
	id     string
	userID int64
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub tracks open WebSocket connections by connection id and fans events out
// to them. A slow client loses events rather than blocking the emitter.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*conn
	upgrader websocket.Upgrader
	logger   *zerolog.Logger
}

func NewHub(allowedOrigins []string, logger *zerolog.Logger) *Hub {
	l := logger.With().Str("component", "PushHub").Logger()
	h := &Hub{conns: make(map[string]*conn), logger: &l}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Serve upgrades the request and blocks until the client goes away.
// The first frame sent is {"event":"connected","data":{"connection_id":...}}.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID int64) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &conn{
		id:     uuid.NewString(),
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
	h.add(c)
	defer h.remove(c)

	hello, _ := json.Marshal(Envelope{Event: "connected", Data: map[string]any{"connection_id": c.id}})
	c.send <- hello

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	n := len(h.conns)
	h.mu.Unlock()
	metrics.SetPushConnections(n)
	h.logger.Debug().Str("connection_id", c.id).Int64("user_id", c.userID).Msg("client connected")
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	n := len(h.conns)
	h.mu.Unlock()
	c.close()
	_ = c.ws.Close()
	metrics.SetPushConnections(n)
	h.logger.Debug().Str("connection_id", c.id).Msg("client disconnected")
}

// readLoop only drains control frames; clients never send commands.
func (h *Hub) readLoop(c *conn) {
	c.ws.SetReadLimit(4096)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug().Err(err).Str("connection_id", c.id).Msg("write failed")
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.ws.Close()
				return
			}
		}
	}
}

// Emit queues an event for one connection. An empty id is a no-op.
func (h *Hub) Emit(_ context.Context, connectionID, event string, payload any) error {
	if connectionID == "" {
		metrics.IncPushEvent(event, "no_connection")
		return nil
	}
	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()
	if !ok {
		metrics.IncPushEvent(event, "no_connection")
		return ErrNoConnection
	}
	msg, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		metrics.IncPushEvent(event, "dropped")
		return err
	}
	select {
	case c.send <- msg:
		metrics.IncPushEvent(event, "sent")
		return nil
	case <-c.done:
		metrics.IncPushEvent(event, "no_connection")
		return ErrNoConnection
	default:
		metrics.IncPushEvent(event, "dropped")
		h.logger.Warn().Str("connection_id", connectionID).Str("event", event).Msg("send buffer full, event dropped")
		return errors.New("push: send buffer full")
	}
}

// Owner returns the user that opened connectionID.
func (h *Hub) Owner(connectionID string) (int64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connectionID]
	if !ok {
		return 0, false
	}
	return c.userID, true
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
		_ = c.ws.Close()
	}
}
