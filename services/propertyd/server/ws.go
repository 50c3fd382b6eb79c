package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const wsWriteTimeout = 5 * time.Second

type wsEvent struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  int64             `json:"emittedAt"`
}

// handleEventStream streams core events (bridge transitions, position changes,
// rent cycles) to websocket clients. Slow clients drop events rather than
// backpressuring the emitters.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("event bus unavailable"))
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	feed, cancel := s.bus.Subscribe(128)
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client disconnected")
			return
		case evt, ok := <-feed:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "stream ended")
				return
			}
			writeCtx, done := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, wsEvent{
				Type:       evt.EventType(),
				Attributes: evt.Attributes(),
				EmittedAt:  time.Now().Unix(),
			})
			done()
			if err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
