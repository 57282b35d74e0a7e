package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rentalwise/messaging/internal/middleware"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Inbound frames carry no application data (sending goes through
	// REST), so the read limit only needs to cover control traffic.
	maxInboundSize = 512

	sendBuffer = 256
)

type session struct {
	hub  *Hub
	conn *websocket.Conn
	uid  string
	send chan Event

	// expiresAt closes the session when the credential it was opened
	// with lapses; zero means no expiry claim was present.
	expiresAt time.Time

	closeOnce sync.Once
}

func newSession(h *Hub, conn *websocket.Conn, claims *middleware.Claims) *session {
	s := &session{
		hub:  h,
		conn: conn,
		uid:  claims.UID(),
		send: make(chan Event, sendBuffer),
	}
	if claims.ExpiresAt != nil {
		s.expiresAt = claims.ExpiresAt.Time
	}
	return s
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.hub.unregister(s)
		s.conn.Close()
	})
}

// readPump discards inbound frames and watches for disconnect. It owns
// the connection's read side: pong handling keeps the deadline fresh.
func (s *session) readPump() {
	defer s.close()
	s.conn.SetReadLimit(maxInboundSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.log.Debug("session read error", "uid", s.uid, "err", err)
			}
			return
		}
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	var expiry <-chan time.Time
	if !s.expiresAt.IsZero() {
		expiryTimer := time.NewTimer(time.Until(s.expiresAt))
		defer expiryTimer.Stop()
		expiry = expiryTimer.C
	}
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case ev := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(ev); err != nil {
				s.hub.log.Debug("session write error", "uid", s.uid, "err", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-expiry:
			s.hub.log.Info("session credential expired", "uid", s.uid)
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session expired"))
			return
		}
	}
}
