package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"argus-ingest/ingest"
)

// serviceName identifies this engine in /health responses.
const serviceName = "argus-ingest"

// startSourceRequest is the wire shape of POST /sources/start.
// ReconnectAttempts is a pointer so an omitted field can be told apart
// from an explicit 0 (see ingest.AddSourceRequest.ReconnectAttempts).
type startSourceRequest struct {
	SourceID          string  `json:"source_id"`
	Name              string  `json:"name"`
	SourceType        string  `json:"source_type"`
	URI               string  `json:"uri"`
	TargetFPS         int     `json:"target_fps"`
	ReconnectAttempts *int    `json:"reconnect_attempts"`
	ReconnectDelayS   float64 `json:"reconnect_delay_s"`
	TimeoutS          float64 `json:"timeout_s"`
	Username          string  `json:"username"`
	Password          string  `json:"password"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
}

type startSourceResponse struct {
	Status   string `json:"status"`
	SourceID string `json:"source_id"`
}

// handleStartSource handles POST /sources/start: registers a new source
// and begins capturing immediately.
func (s *Server) handleStartSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req startSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.URI == "" {
		writeError(w, http.StatusBadRequest, "uri is required")
		return
	}

	var sourceID uuid.UUID
	if req.SourceID != "" {
		parsed, err := uuid.Parse(req.SourceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid source_id: "+err.Error())
			return
		}
		sourceID = parsed
	}

	id, err := s.manager.AddSource(r.Context(), ingest.AddSourceRequest{
		SourceID:          sourceID,
		Name:              req.Name,
		SourceType:        req.SourceType,
		URI:               req.URI,
		TargetFPS:         req.TargetFPS,
		ReconnectAttempts: req.ReconnectAttempts,
		ReconnectDelayS:   req.ReconnectDelayS,
		TimeoutS:          req.TimeoutS,
		Username:          req.Username,
		Password:          req.Password,
		Width:             req.Width,
		Height:            req.Height,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, startSourceResponse{Status: "started", SourceID: id.String()})
}

// handleAllStatus handles GET /sources/status: a snapshot of every
// registered source plus the aggregate online count.
func (s *Server) handleAllStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	all := s.manager.GetAllStatus()
	sources := make(map[string]ingest.SourceStatus, len(all))
	for id, st := range all {
		sources[id.String()] = st
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":   s.manager.SourceCount(),
		"online":  s.manager.OnlineCount(),
		"sources": sources,
	})
}

// handleSourceScoped dispatches every /sources/{id}/... route: {id}/stop,
// {id}/status, and {id}/relay. A go1.21 mux can't match path segments, so
// it's parsed by hand, matching the teacher's plain-ServeMux style.
func (s *Server) handleSourceScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sources/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	id, err := uuid.Parse(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid source id: "+err.Error())
		return
	}

	switch parts[1] {
	case "stop":
		s.handleStopSource(w, r, id)
	case "status":
		s.handleSourceStatus(w, r, id)
	case "relay":
		s.handleRelay(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// handleStopSource handles POST /sources/{id}/stop.
func (s *Server) handleStopSource(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !s.manager.RemoveSource(id) {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}
	s.distributor.ForgetSource(id)

	writeJSON(w, http.StatusOK, map[string]string{"source_id": id.String(), "status": "stopped"})
}

// handleSourceStatus handles GET /sources/{id}/status.
func (s *Server) handleSourceStatus(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	st, ok := s.manager.GetStatus(id)
	if !ok {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type relayRequest struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
}

// handleRelay handles GET/POST /sources/{id}/relay: configure or inspect
// the supplemental RTP/UDP fan-out destination for a source.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	switch r.Method {
	case http.MethodGet:
		dest, ok := s.distributor.GetRelay(id)
		if !ok {
			writeJSON(w, http.StatusOK, map[string]interface{}{"source_id": id.String(), "relay": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"source_id": id.String(), "relay": dest})

	case http.MethodPost:
		if _, ok := s.manager.GetStatus(id); !ok {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}

		var req relayRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if req.Host == "" || req.Port <= 0 {
			writeError(w, http.StatusBadRequest, "host and port are required")
			return
		}
		if req.Width <= 0 {
			req.Width = s.cfg.Ingest.DefaultWidth
		}
		if req.Height <= 0 {
			req.Height = s.cfg.Ingest.DefaultHeight
		}
		if req.FPS <= 0 {
			req.FPS = s.cfg.Ingest.DefaultTargetFPS
		}

		// The relay outlives this request; it stops on ClearRelay/ForgetSource.
		if err := s.distributor.SetRelay(context.WithoutCancel(r.Context()), id, req.Host, req.Port, req.Width, req.Height, req.FPS); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"source_id": id.String(), "status": "relay configured"})

	case http.MethodDelete:
		s.distributor.ClearRelay(id)
		writeJSON(w, http.StatusOK, map[string]string{"source_id": id.String(), "status": "relay cleared"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleHealth handles GET /health: a liveness probe independent of any
// source state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"service":        serviceName,
		"sources_total":  s.manager.SourceCount(),
		"sources_online": s.manager.OnlineCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Debug("write json response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
