package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"engram/internal/events"
	"engram/internal/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsReadLimit  = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon binds to localhost; the SPA is served from the same origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket bridges the event broadcaster onto one socket. Each client
// gets its own subscription; a slow client is dropped by the broadcaster and
// its socket closed, never blocking other subscribers.
func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	sub := s.events.SubscribeDefault()
	s.logger.Debug("websocket client connected",
		logging.String("subscription", sub.ID().String()),
		logging.String("remote", conn.RemoteAddr().String()))

	go s.writePump(conn, sub)
	go s.readPump(conn, sub)
	return nil
}

// writePump forwards envelopes to the socket and keeps it alive with pings.
// It exits when the subscription channel closes or a write fails.
func (s *Server) writePump(conn *websocket.Conn, sub *events.Subscription) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case envelope, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(envelope); err != nil {
				s.events.Unsubscribe(sub)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.events.Unsubscribe(sub)
				return
			}
		}
	}
}

// readPump drains the socket so close frames and pongs are processed. The
// push channel is one-way; client payloads are discarded.
func (s *Server) readPump(conn *websocket.Conn, sub *events.Subscription) {
	defer func() {
		s.events.Unsubscribe(sub)
		_ = conn.Close()
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", logging.Error(err))
			}
			return
		}
	}
}
