package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"argus-ingest/ingest"
)

var statusUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type statusMessage struct {
	Type    string                         `json:"type"`
	Total   int                            `json:"total"`
	Online  int                            `json:"online"`
	Sources map[string]ingest.SourceStatus `json:"sources"`
}

// handleStatusWebSocket handles GET /ws/status: upgrades the connection and
// pushes a full status snapshot every Timeouts.StatusPushIntervalS, until
// the client disconnects. Grounded on the teacher's webrtc/signaling.go
// connection lifecycle (upgrade, per-connection read pump to detect close,
// write loop on a ticker), simplified here to a pure server push with no
// inbound message protocol.
func (s *Server) handleStatusWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := statusUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := s.logger.With(zap.String("remote_addr", r.RemoteAddr))
	logger.Info("status websocket connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	interval := time.Duration(s.cfg.Timeouts.StatusPushIntervalS * float64(time.Second))
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			logger.Info("status websocket disconnected")
			return
		case <-ticker.C:
			msg := s.buildStatusMessage()
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("status websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) buildStatusMessage() statusMessage {
	all := s.manager.GetAllStatus()
	sources := make(map[string]ingest.SourceStatus, len(all))
	for id, st := range all {
		sources[id.String()] = st
	}
	return statusMessage{
		Type:    "source_status",
		Total:   s.manager.SourceCount(),
		Online:  s.manager.OnlineCount(),
		Sources: sources,
	}
}
