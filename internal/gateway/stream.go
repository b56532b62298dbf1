package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shunt-ci/shunt/internal/pipeline"
)

const (
	// wsPingInterval is the interval between ping frames sent to the client.
	wsPingInterval = 30 * time.Second
	// wsPongTimeout is how long to wait for a pong response before closing.
	wsPongTimeout = 10 * time.Second
	// wsWriteTimeout is the deadline for writing a message to the client.
	wsWriteTimeout = 5 * time.Second
	// subscriberBacklog buffers pushes for a briefly stalled client; a
	// slow client misses intermediate states and catches up on the next
	// push.
	subscriberBacklog = 8
)

// Broadcast pushes a snapshot to every connected websocket subscriber.
// Called after every engine transition.
func (s *Server) Broadcast(snapshots []pipeline.PipelineSnapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- snapshots:
		default:
		}
	}
}

func (s *Server) subscribe() chan []pipeline.PipelineSnapshot {
	ch := make(chan []pipeline.PipelineSnapshot, subscriberBacklog)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan []pipeline.PipelineSnapshot) {
	s.mu.Lock()
	delete(s.subscribers, ch)
	s.mu.Unlock()
}

// subscriberCount reports the number of connected websocket clients.
func (s *Server) subscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// handleStream upgrades the connection to WebSocket and streams queue
// snapshots: the current state on connect, then a push after every
// engine transition.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		http.Error(w, "Queue not available", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade error", slog.Any("error", err))
		return
	}
	defer func() { _ = conn.Close() }()

	s.log.Info("dashboard connected", slog.String("remote", r.RemoteAddr))

	// Subscribe before the initial send so no transition slips between
	// the two.
	sub := s.subscribe()
	defer s.unsubscribe(sub)

	snaps, err := s.snapshots()
	if err != nil {
		s.log.Warn("initial snapshot failed", slog.Any("error", err))
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(snaps); err != nil {
		return
	}

	// Set up pong handler for keepalive.
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(wsPingInterval + wsPongTimeout))

	// Read pump: drain client messages (none expected) and detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					s.log.Warn("websocket read error", slog.Any("error", err))
				}
				return
			}
		}
	}()

	// Write pump: stream snapshots and send pings.
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case snaps, ok := <-sub:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(snaps); err != nil {
				s.log.Debug("websocket write error", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
