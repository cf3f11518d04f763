package ingest

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	defaultFrameWidth  = 640
	defaultFrameHeight = 480
)

// usbAdapter captures from a local V4L2 device via an ffmpeg subprocess
// emitting raw BGR24 frames, reusing the teacher's GStreamer-subprocess
// lifecycle pattern retargeted to a different capture tool.
type usbAdapter struct {
	*baseAdapter

	width, height int

	mu   sync.Mutex
	proc *ffmpegProcess
}

// NewUSBAdapter constructs a SourceAdapter that captures from a V4L2
// device. uri may be a bare device index ("0"), a /dev/videoN path, or any
// string parseDeviceIndex accepts.
func NewUSBAdapter(cfg AdapterConfig, logger *zap.Logger) SourceAdapter {
	a := &usbAdapter{width: cfg.Width, height: cfg.Height}
	if a.width <= 0 {
		a.width = defaultFrameWidth
	}
	if a.height <= 0 {
		a.height = defaultFrameHeight
	}
	a.baseAdapter = newBaseAdapter(cfg, a, logger)
	return a
}

func (a *usbAdapter) protocol() string { return "usb" }

func (a *usbAdapter) primitiveConnect(ctx context.Context) error {
	device := parseDeviceIndex(a.cfg.URI)

	args := []string{
		"-hide_banner", "-loglevel", "warning",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", a.width, a.height),
		"-i", device,
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"pipe:1",
	}

	proc, err := startFFmpeg(ctx, a.logger, args)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.proc = proc
	a.mu.Unlock()
	return nil
}

func (a *usbAdapter) primitiveRead(ctx context.Context) (*RawFrame, error) {
	a.mu.Lock()
	proc := a.proc
	a.mu.Unlock()
	if proc == nil {
		return nil, fmt.Errorf("usb: not connected")
	}

	frameSize := a.width * a.height * 3
	buf := make([]byte, frameSize)
	if _, err := io.ReadFull(proc.stdout, buf); err != nil {
		if proc.hasExited() {
			return nil, fmt.Errorf("ffmpeg exited: %w", err)
		}
		return nil, err
	}

	return &RawFrame{Image: buf, Width: a.width, Height: a.height, Channels: 3}, nil
}

func (a *usbAdapter) primitiveDisconnect(ctx context.Context) error {
	a.mu.Lock()
	proc := a.proc
	a.proc = nil
	a.mu.Unlock()

	if proc != nil {
		proc.Stop()
	}
	return nil
}

// parseDeviceIndex turns a URI fragment into an ffmpeg v4l2 device path:
// "/dev/videoN" passes through unchanged, a bare integer becomes
// "/dev/video<N>", anything else defaults to device 0 ("/dev/video0").
func parseDeviceIndex(uri string) string {
	uri = strings.TrimSpace(uri)
	if strings.HasPrefix(uri, "/dev/video") {
		return uri
	}
	if n, err := strconv.Atoi(uri); err == nil {
		return fmt.Sprintf("/dev/video%d", n)
	}
	return "/dev/video0"
}
