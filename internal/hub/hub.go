// Package hub delivers newly persisted messages to the live websocket
// sessions of conversation participants. The hub keeps no message
// history: a session that misses events recovers through the REST
// backfill path, so delivery here is strictly best effort.
package hub

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rentalwise/messaging/internal/middleware"
	"github.com/rentalwise/messaging/internal/model"
)

const EventMessageCreated = "messageCreated"

// Event is the push envelope written to subscribed sessions.
type Event struct {
	Type    string         `json:"type"`
	Message *model.Message `json:"message,omitempty"`
}

// Hub keys live sessions by user identity, mirroring how the identity
// service addresses users: one user may hold several sessions (tabs,
// devices) and every one of them receives each event.
type Hub struct {
	log  *slog.Logger
	auth *middleware.AuthMiddleware

	mu       sync.RWMutex
	sessions map[string]map[*session]struct{}

	upgrader websocket.Upgrader
}

func New(log *slog.Logger, auth *middleware.AuthMiddleware) *Hub {
	return &Hub{
		log:      log,
		auth:     auth,
		sessions: map[string]map[*session]struct{}{},
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			// Auth is token-based; browser origin carries no signal here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// MessageCreated implements service.Notifier.
func (h *Hub) MessageCreated(msg *model.Message, recipients []string) {
	h.Publish(Event{Type: EventMessageCreated, Message: msg}, recipients)
}

// Publish fans ev out to every open session of every recipient. A slow
// or blocked session is dropped rather than allowed to delay the rest;
// its client reconnects and backfills.
func (h *Hub) Publish(ev Event, recipients []string) {
	var targets []*session
	h.mu.RLock()
	for _, uid := range recipients {
		for s := range h.sessions[uid] {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.send <- ev:
		default:
			h.log.Warn("session send buffer full, closing", "uid", s.uid)
			s.close()
		}
	}
}

// Handler upgrades an authenticated request to a websocket session.
// The token travels in the Authorization header or, for browser
// clients that cannot set headers on websocket dials, in ?token=.
func (h *Hub) Handler(c echo.Context) error {
	tokenStr := c.QueryParam("token")
	if tokenStr == "" {
		authz := c.Request().Header.Get("Authorization")
		tokenStr = strings.TrimPrefix(authz, "Bearer ")
	}
	claims, err := h.auth.Verify(tokenStr)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the handshake error.
		return nil
	}

	s := newSession(h, conn, claims)
	h.register(s)
	h.log.Info("session open", "uid", s.uid)

	go s.writePump()
	s.readPump()
	return nil
}

func (h *Hub) register(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[s.uid]
	if !ok {
		set = map[*session]struct{}{}
		h.sessions[s.uid] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[s.uid]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.sessions, s.uid)
	}
}

// Connections returns the number of open sessions for uid.
func (h *Hub) Connections(uid string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[uid])
}
