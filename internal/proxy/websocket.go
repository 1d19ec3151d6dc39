// Package proxy relays session events to websocket clients.
package proxy

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lucasduarte0/whatsapp-api/internal/events"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Subscriber is the part of the hub the stream needs
type Subscriber interface {
	Subscribe(sessionID string) (<-chan events.Envelope, func())
}

type Server struct {
	hub    Subscriber
	logger *zap.Logger
}

func NewServer(hub Subscriber, logger *zap.Logger) *Server {
	return &Server{
		hub:    hub,
		logger: logger.Named("stream"),
	}
}

// HandleEvents upgrades the request and streams every envelope published
// for sessionID until either side goes away. Sessions do not need to exist
// yet, so a client can watch pairing from the first qr event.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	defer conn.Close()

	envs, cancel := s.hub.Subscribe(sessionID)
	defer cancel()

	log := s.logger.With(zap.String("session_id", sessionID))
	log.Info("event stream connected")

	gone := make(chan struct{})
	go s.drain(conn, gone)

	if err := s.pump(conn, envs, gone); err != nil {
		log.Debug("event stream write failed", zap.Error(err))
	}
	log.Info("event stream disconnected")
}

// drain reads until the peer closes, keeping pong handling alive
func (s *Server) drain(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) pump(conn *websocket.Conn, envs <-chan events.Envelope, gone <-chan struct{}) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return nil
		case env, ok := <-envs:
			if !ok {
				return conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				return err
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}
