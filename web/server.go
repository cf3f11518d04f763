// Package web exposes the engine's HTTP/WebSocket boundary: source
// lifecycle endpoints, the MJPEG multipart stream, and a periodic status
// WebSocket.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"argus-ingest/config"
	"argus-ingest/distribute"
	"argus-ingest/ingest"
)

// Server is the HTTP boundary in front of an ingest.Manager and a
// distribute.Distributor. Grounded on the teacher's web.Server: same
// mux-plus-middleware shape and graceful Stop, retargeted from two fixed
// cameras to the dynamic source registry.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	manager     *ingest.Manager
	distributor *distribute.Distributor

	httpServer *http.Server
}

// NewServer constructs a Server. Call Start to begin listening.
func NewServer(cfg *config.Config, logger *zap.Logger, manager *ingest.Manager, distributor *distribute.Distributor) *Server {
	return &Server{
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "web.server")),
		manager:     manager,
		distributor: distributor,
	}
}

// Start builds the route table and begins listening in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/sources/start", s.handleStartSource)
	mux.HandleFunc("/sources/status", s.handleAllStatus)
	mux.HandleFunc("/sources/", s.handleSourceScoped) // {id}/stop, {id}/status, {id}/relay
	mux.HandleFunc("/stream/", s.handleStream)
	mux.HandleFunc("/ws/status", s.handleStatusWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.addMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoints (MJPEG, WebSocket) run indefinitely
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()

	s.logger.Info("web server started",
		zap.String("address", addr),
		zap.String("url", fmt.Sprintf("http://%s:%d", s.cfg.Server.AdvertisedIP, s.cfg.Server.Port)))
	return nil
}

// addMiddleware applies CORS headers, OPTIONS preflight short-circuiting,
// and request logging, matching the teacher's Server.addMiddleware.
func (s *Server) addMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler.ServeHTTP(lw, r)

		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", lw.statusCode),
			zap.Duration("duration", time.Since(start)))
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Stop gracefully shuts the HTTP server down, bounded by
// Timeouts.ShutdownTimeoutSeconds.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	timeout := time.Duration(s.cfg.Timeouts.ShutdownTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", zap.Error(err))
		return err
	}
	s.logger.Info("web server stopped")
	return nil
}
