// Package live pushes change notifications to open portal pages over
// WebSocket so they can refetch instead of polling.
package live

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"partner_portal/internal/rbac"
)

// Event describes a change. PartnerID is empty for global rows such as
// settings or shared templates.
type Event struct {
	Action     string `json:"action"`
	Collection string `json:"collection"`
	ID         string `json:"id"`
	PartnerID  string `json:"partnerId,omitempty"`
}

const (
	sendBuffer = 32
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

type subscriber struct {
	scope rbac.Scope
	send  chan Event
}

type Hub struct {
	log *zap.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, subs: map[*subscriber]struct{}{}}
}

// Publish fans e out to every subscriber whose scope covers it. Slow
// subscribers are dropped rather than blocking the publisher.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if !visible(s.scope, e) {
			continue
		}
		select {
		case s.send <- e:
		default:
			h.log.Warn("dropping slow live subscriber")
			delete(h.subs, s)
			close(s.send)
		}
	}
}

func visible(scope rbac.Scope, e Event) bool {
	if e.PartnerID == "" {
		return scope.Shares("")
	}
	return scope.Owns(e.PartnerID)
}

func (h *Hub) subscribe(scope rbac.Scope) *subscriber {
	s := &subscriber{scope: scope, send: make(chan Event, sendBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.send)
	}
	h.mu.Unlock()
}

// Subscribers reports the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Serve upgrades the request and streams events until the client leaves.
func (h *Hub) Serve(c *gin.Context, scope rbac.Scope) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	sub := h.subscribe(scope)

	go h.writeLoop(conn, sub)

	// Reads only keep the connection alive; clients never send events.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unsubscribe(sub)
}

func (h *Hub) writeLoop(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case e, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Handler adapts Serve for a route behind the auth middleware.
func Handler(h *Hub, scope func(*gin.Context) rbac.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !websocket.IsWebSocketUpgrade(c.Request) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "websocket upgrade required"})
			return
		}
		h.Serve(c, scope(c))
	}
}
