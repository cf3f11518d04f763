package ingest

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	"go.uber.org/zap"
)

// rtspAdapter captures frames from an RTSP server via github.com/bluenviron/gortsplib/v4,
// forced to TCP transport (matches the original service's
// rtsp_transport=tcp;fflags=nobuffer;flags=low_delay capture options). Only
// MJPEG media is decoded; any other offered codec is an out-of-scope
// collaborator and is rejected at connect time.
type rtspAdapter struct {
	*baseAdapter

	username string
	password string

	mu       sync.Mutex
	client   *gortsplib.Client
	frames   chan *RawFrame
	reasm    *mjpegReassembler
}

// NewRTSPAdapter constructs a SourceAdapter that captures from an RTSP URL.
func NewRTSPAdapter(cfg AdapterConfig, logger *zap.Logger) SourceAdapter {
	a := &rtspAdapter{username: cfg.Username, password: cfg.Password}
	a.baseAdapter = newBaseAdapter(cfg, a, logger)
	return a
}

func (a *rtspAdapter) protocol() string { return "rtsp" }

func (a *rtspAdapter) primitiveConnect(ctx context.Context) error {
	u, err := base.ParseURL(a.cfg.URI)
	if err != nil {
		return fmt.Errorf("parse rtsp url: %w", err)
	}
	if a.username != "" && u.User == nil {
		u.User = url.UserPassword(a.username, a.password)
	}

	client := &gortsplib.Client{
		Transport: transportPtr(gortsplib.TransportTCP),
	}

	desc, _, err := client.Describe(u)
	if err != nil {
		return fmt.Errorf("describe: %w", err)
	}

	var mjpegFormat *format.MJPEG
	var mjpegMedia *description.Media
	for _, media := range desc.Medias {
		for _, forma := range media.Formats {
			if mj, ok := forma.(*format.MJPEG); ok {
				mjpegFormat = mj
				mjpegMedia = media
				break
			}
		}
		if mjpegFormat != nil {
			break
		}
	}
	if mjpegFormat == nil {
		client.Close()
		return fmt.Errorf("no MJPEG media offered by %s (only stdlib image/jpeg decode is supported)", a.cfg.URI)
	}

	if err := client.SetupAll(desc.BaseURL, desc.Medias); err != nil {
		client.Close()
		return fmt.Errorf("setup: %w", err)
	}

	frames := make(chan *RawFrame, 1)
	reasm := newMJPEGReassembler()

	client.OnPacketRTP(mjpegMedia, mjpegFormat, func(pkt *rtp.Packet) {
		raw, err := reasm.push(pkt)
		if err != nil {
			a.logger.Debug("mjpeg reassembly dropped fragment", zap.Error(err))
			return
		}
		if raw == nil {
			return
		}
		select {
		case frames <- raw:
		default:
			// drop stale unread frame, keep only the latest
			select {
			case <-frames:
			default:
			}
			frames <- raw
		}
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return fmt.Errorf("play: %w", err)
	}

	a.mu.Lock()
	a.client = client
	a.frames = frames
	a.reasm = reasm
	a.mu.Unlock()

	go func() {
		_ = client.Wait()
	}()

	return nil
}

func (a *rtspAdapter) primitiveRead(ctx context.Context) (*RawFrame, error) {
	a.mu.Lock()
	frames := a.frames
	a.mu.Unlock()
	if frames == nil {
		return nil, fmt.Errorf("rtsp: not connected")
	}

	select {
	case raw, ok := <-frames:
		if !ok {
			return nil, fmt.Errorf("rtsp: session closed")
		}
		return raw, nil
	case <-ctx.Done():
		return nil, nil
	}
}

func (a *rtspAdapter) primitiveDisconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
	a.frames = nil
	a.reasm = nil
	return nil
}

func transportPtr(t gortsplib.Transport) *gortsplib.Transport {
	return &t
}
