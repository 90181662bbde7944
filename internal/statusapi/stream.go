package statusapi

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/groundsync/internal/event"
)

const (
	streamBuffer = 64
	writeTimeout = 5 * time.Second
)

// StreamMessage is one event on the /api/events websocket.
type StreamMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      event.Event `json:"data"`
}

// handleEvents upgrades to a websocket and forwards every published event
// until the client goes away or the server closes. A slow client loses
// events rather than blocking publishers.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.done:
		http.Error(w, "server closing", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.streams.Add(1)
	defer s.streams.Done()
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var dropped atomic.Int64
	ch := make(chan event.Event, streamBuffer)
	sub := s.orch.Events().SubscribeAllContext(ctx, func(e event.Event) {
		select {
		case ch <- e:
		default:
			dropped.Add(1)
		}
	})
	defer sub.Close()

	// The read side only detects the client closing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("event stream opened", "remote", r.RemoteAddr)
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("event stream closed", "remote", r.RemoteAddr, "dropped", dropped.Load())
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeTimeout))
			return
		case e := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			msg := StreamMessage{Type: e.EventType(), Timestamp: e.Timestamp(), Data: e}
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		}
	}
}
