package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// fileAdapter plays back a local video file at target_fps via an ffmpeg
// subprocess, looping on end-of-stream. Shares the usb adapter's
// subprocess lifecycle; the subprocess is simply restarted on EOF rather
// than the adapter disconnecting, matching the original service's
// loop_playback=True default.
type fileAdapter struct {
	*baseAdapter

	width, height int
	loopPlayback  bool

	mu   sync.Mutex
	proc *ffmpegProcess
}

// NewFileAdapter constructs a SourceAdapter that plays back a video file.
func NewFileAdapter(cfg AdapterConfig, logger *zap.Logger) SourceAdapter {
	a := &fileAdapter{width: cfg.Width, height: cfg.Height, loopPlayback: true}
	if a.width <= 0 {
		a.width = defaultFrameWidth
	}
	if a.height <= 0 {
		a.height = defaultFrameHeight
	}
	a.baseAdapter = newBaseAdapter(cfg, a, logger)
	return a
}

func (a *fileAdapter) protocol() string { return "file" }

func (a *fileAdapter) primitiveConnect(ctx context.Context) error {
	if _, err := os.Stat(a.cfg.URI); err != nil {
		return fmt.Errorf("file not found: %s", a.cfg.URI)
	}
	return a.spawn(ctx)
}

func (a *fileAdapter) spawn(ctx context.Context) error {
	args := []string{
		"-hide_banner", "-loglevel", "warning",
		"-re",
		"-i", a.cfg.URI,
		"-vf", fmt.Sprintf("scale=%d:%d", a.width, a.height),
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

func (a *fileAdapter) primitiveRead(ctx context.Context) (*RawFrame, error) {
	a.mu.Lock()
	proc := a.proc
	a.mu.Unlock()
	if proc == nil {
		return nil, fmt.Errorf("file: not connected")
	}

	frameSize := a.width * a.height * 3
	buf := make([]byte, frameSize)
	if _, err := io.ReadFull(proc.stdout, buf); err != nil {
		if !a.loopPlayback {
			return nil, fmt.Errorf("ffmpeg exited: %w", err)
		}

		// End of file: restart the subprocess without resetting sequence
		// or frames_total, same as the capture loop's normal frame flow.
		a.mu.Lock()
		a.proc = nil
		a.mu.Unlock()
		proc.Stop()

		if err := a.spawn(ctx); err != nil {
			return nil, fmt.Errorf("loop restart: %w", err)
		}

		a.mu.Lock()
		proc = a.proc
		a.mu.Unlock()

		if _, err := io.ReadFull(proc.stdout, buf); err != nil {
			return nil, fmt.Errorf("read after loop restart: %w", err)
		}
	}

	return &RawFrame{Image: buf, Width: a.width, Height: a.height, Channels: 3}, nil
}

func (a *fileAdapter) primitiveDisconnect(ctx context.Context) error {
	a.mu.Lock()
	proc := a.proc
	a.proc = nil
	a.mu.Unlock()

	if proc != nil {
		proc.Stop()
	}
	return nil
}
