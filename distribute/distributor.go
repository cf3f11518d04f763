package distribute

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"argus-ingest/ingest"
)

const defaultJPEGQuality = 80

// Distributor drains the shared frame queue and JPEG-encodes each
// source's latest frame into a single-slot cache, exactly like the
// original service's frame_distributor coroutine. It additionally relays
// the same JPEG bytes over RTP/UDP for any source with a configured relay
// destination (the supplemental NVR fan-out feature).
type Distributor struct {
	logger           *zap.Logger
	quality          int
	relayChannelSize int

	mu      sync.RWMutex
	latest  map[uuid.UUID][]byte
	relays  map[uuid.UUID]*relayStreamer
	relayOf map[uuid.UUID]string // source id -> "host:port", for GetRelay
}

// NewDistributor constructs a Distributor. quality <= 0 defaults to 80,
// matching cv2.IMWRITE_JPEG_QUALITY in the original service. relayChannelSize
// sizes every relayStreamer's send queue (config.BufferConfig.RelayChannelSize).
func NewDistributor(logger *zap.Logger, quality, relayChannelSize int) *Distributor {
	if quality <= 0 {
		quality = defaultJPEGQuality
	}
	return &Distributor{
		logger:           logger.With(zap.String("component", "distribute.distributor")),
		quality:          quality,
		relayChannelSize: relayChannelSize,
		latest:           make(map[uuid.UUID][]byte),
		relays:           make(map[uuid.UUID]*relayStreamer),
		relayOf:          make(map[uuid.UUID]string),
	}
}

// Run drains frames until ctx is cancelled or the channel is closed.
// Encode failures are logged and skipped; they never stop the loop.
func (d *Distributor) Run(ctx context.Context, frames <-chan ingest.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			d.handle(frame)
		}
	}
}

func (d *Distributor) handle(frame ingest.Frame) {
	jpegData, err := encodeJPEG(frame, d.quality)
	if err != nil {
		d.logger.Warn("jpeg encode failed", zap.String("source", frame.SourceID.String()), zap.Error(err))
		return
	}

	d.mu.Lock()
	d.latest[frame.SourceID] = jpegData
	streamer := d.relays[frame.SourceID]
	d.mu.Unlock()

	if streamer != nil {
		streamer.send(jpegData)
	}
}

// LatestJPEG returns the most recently encoded JPEG for a source, or false
// if nothing has been produced for it yet.
func (d *Distributor) LatestJPEG(id uuid.UUID) ([]byte, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	data, ok := d.latest[id]
	return data, ok
}

// ForgetSource drops the cache entry and any relay for a removed source.
func (d *Distributor) ForgetSource(id uuid.UUID) {
	d.mu.Lock()
	delete(d.latest, id)
	streamer := d.relays[id]
	delete(d.relays, id)
	delete(d.relayOf, id)
	d.mu.Unlock()

	if streamer != nil {
		streamer.stop()
	}
}

// SetRelay configures (or replaces) the RTP relay destination for a
// source.
func (d *Distributor) SetRelay(ctx context.Context, id uuid.UUID, host string, port, width, height, fps int) error {
	streamer := newRelayStreamer(relayStreamerConfig{
		DestHost:    host,
		DestPort:    port,
		Width:       width,
		Height:      height,
		FPS:         fps,
		SSRC:        uint32(time.Now().UnixNano()),
		ChannelSize: d.relayChannelSize,
	}, d.logger.With(zap.String("source", id.String())))

	if err := streamer.start(ctx); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}

	d.mu.Lock()
	if old := d.relays[id]; old != nil {
		old.stop()
	}
	d.relays[id] = streamer
	d.relayOf[id] = fmt.Sprintf("%s:%d", host, port)
	d.mu.Unlock()

	return nil
}

// GetRelay returns the configured "host:port" for a source's relay, if
// any.
func (d *Distributor) GetRelay(id uuid.UUID) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dest, ok := d.relayOf[id]
	return dest, ok
}

// ClearRelay stops and removes a source's relay without touching its
// cache entry.
func (d *Distributor) ClearRelay(id uuid.UUID) {
	d.mu.Lock()
	streamer := d.relays[id]
	delete(d.relays, id)
	delete(d.relayOf, id)
	d.mu.Unlock()

	if streamer != nil {
		streamer.stop()
	}
}

func encodeJPEG(frame ingest.Frame, quality int) ([]byte, error) {
	if frame.Channels != 3 {
		return nil, fmt.Errorf("unsupported channel count %d", frame.Channels)
	}
	img := &bgrImage{pix: frame.Image, w: frame.Width, h: frame.Height}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// bgrImage adapts a flat, row-major BGR24 buffer (this engine's Frame.Image
// format) to image.Image without an intermediate pixel copy.
type bgrImage struct {
	pix []byte
	w   int
	h   int
}

func (b *bgrImage) ColorModel() color.Model { return color.RGBAModel }
func (b *bgrImage) Bounds() image.Rectangle { return image.Rect(0, 0, b.w, b.h) }

func (b *bgrImage) At(x, y int) color.Color {
	i := (y*b.w + x) * 3
	if i+2 >= len(b.pix) {
		return color.RGBA{}
	}
	return color.RGBA{R: b.pix[i+2], G: b.pix[i+1], B: b.pix[i], A: 0xFF}
}
