// Package ingest implements Layer 1 of the Argus perception pipeline:
// protocol-agnostic camera/sensor capture, reconnection, and health
// reporting. Concrete protocols (RTSP, MJPEG, USB, file) live behind a
// single SourceAdapter contract; Layer 2 (out of scope here) only ever
// sees Frame values.
package ingest

import (
	"time"

	"github.com/google/uuid"
)

// SourceState is the derived health state of a source adapter.
type SourceState string

const (
	StateConnecting SourceState = "connecting"
	StateOnline     SourceState = "online"
	StateDegraded   SourceState = "degraded"
	StateOffline    SourceState = "offline"
	StateError      SourceState = "error"
)

// CaptureMeta describes how a Frame was captured.
type CaptureMeta struct {
	Protocol      string  `json:"protocol"`
	Codec         string  `json:"codec"`
	LatencyMS     float64 `json:"latency_ms"`
	DroppedFrames int     `json:"dropped_frames"`
	FPSMeasured   float64 `json:"fps_measured"`
}

// Frame is the unit of data flowing out of Layer 1. Image is raw BGR,
// 8-bit, one byte per channel, row-major, size Height*Width*Channels.
type Frame struct {
	SourceID    uuid.UUID   `json:"source_id"`
	Sequence    int         `json:"sequence"`
	Timestamp   time.Time   `json:"timestamp"`
	Image       []byte      `json:"image"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Channels    int         `json:"channels"`
	CaptureMeta CaptureMeta `json:"capture_meta"`
}

// SourceStatus is a point-in-time snapshot of an adapter's health.
// fps_current, uptime_s, and latency_ms are rounded to one decimal place
// before a SourceStatus is ever constructed (see baseAdapter.status).
type SourceStatus struct {
	SourceID       uuid.UUID   `json:"source_id"`
	State          SourceState `json:"state"`
	FPSCurrent     float64     `json:"fps_current"`
	FPSTarget      float64     `json:"fps_target"`
	FramesTotal    int         `json:"frames_total"`
	FramesDropped  int         `json:"frames_dropped"`
	LastFrameAt    *time.Time  `json:"last_frame_at"`
	UptimeS        float64     `json:"uptime_s"`
	Error          *string     `json:"error"`
	ReconnectCount int         `json:"reconnect_count"`
	LatencyMS      float64     `json:"latency_ms"`
}
