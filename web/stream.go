package web

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const mjpegBoundary = "frame"

// handleStream handles GET /stream/{id}: a multipart/x-mixed-replace MJPEG
// stream of a source's latest distributed frame, pushed at
// Timeouts.MJPEGStreamHz. Grounded on the original service's
// mjpeg_generator: poll the distributor's single-slot cache instead of
// re-decoding from the capture layer.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/stream/")
	id, err := uuid.Parse(strings.Trim(idStr, "/"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid source id: "+err.Error())
		return
	}

	if _, ok := s.manager.GetStatus(id); !ok {
		writeError(w, http.StatusNotFound, "source not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	hz := s.cfg.Timeouts.MJPEGStreamHz
	if hz <= 0 {
		hz = 15
	}
	interval := time.Second / time.Duration(hz)

	w.Header().Set("Content-Type", fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", mjpegBoundary))
	w.Header().Set("Cache-Control", "no-cache, private")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jpegData, ok := s.distributor.LatestJPEG(id)
			if !ok {
				continue
			}

			if err := writeMJPEGPart(w, jpegData); err != nil {
				s.logger.Debug("mjpeg stream write failed", zap.String("source", id.String()), zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeMJPEGPart(w http.ResponseWriter, jpegData []byte) error {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\n\r\n", mjpegBoundary)
	if _, err := w.Write([]byte(header)); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
