package distribute

import (
	"bytes"
	"context"
	"image/jpeg"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"argus-ingest/ingest"
)

func makeBGRFrame(id uuid.UUID, w, h int) ingest.Frame {
	buf := make([]byte, w*h*3)
	for i := range buf {
		buf[i] = byte(i % 256)
	}
	return ingest.Frame{SourceID: id, Width: w, Height: h, Channels: 3, Image: buf}
}

func TestEncodeJPEGRejectsNonBGR(t *testing.T) {
	frame := ingest.Frame{Channels: 1, Image: []byte{0x00}, Width: 1, Height: 1}
	if _, err := encodeJPEG(frame, 80); err == nil {
		t.Fatal("expected an error for a non-3-channel frame")
	}
}

func TestEncodeJPEGProducesDecodableImage(t *testing.T) {
	id := uuid.New()
	frame := makeBGRFrame(id, 16, 16)

	data, err := encodeJPEG(frame, 80)
	if err != nil {
		t.Fatalf("encodeJPEG failed: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding encoded JPEG failed: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 16 || bounds.Dy() != 16 {
		t.Errorf("decoded image size = %dx%d, want 16x16", bounds.Dx(), bounds.Dy())
	}
}

func TestDistributorCachesLatestFrame(t *testing.T) {
	d := NewDistributor(zap.NewNop(), 80, 10)
	id := uuid.New()

	if _, ok := d.LatestJPEG(id); ok {
		t.Fatal("expected no cached frame before anything is handled")
	}

	d.handle(makeBGRFrame(id, 8, 8))

	data, ok := d.LatestJPEG(id)
	if !ok {
		t.Fatal("expected a cached frame after handle")
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty encoded JPEG bytes")
	}
}

func TestDistributorForgetSourceClearsCache(t *testing.T) {
	d := NewDistributor(zap.NewNop(), 80, 10)
	id := uuid.New()

	d.handle(makeBGRFrame(id, 8, 8))
	if _, ok := d.LatestJPEG(id); !ok {
		t.Fatal("expected a cached frame before ForgetSource")
	}

	d.ForgetSource(id)
	if _, ok := d.LatestJPEG(id); ok {
		t.Fatal("expected no cached frame after ForgetSource")
	}
}

func TestDistributorRunDrainsUntilContextCancelled(t *testing.T) {
	d := NewDistributor(zap.NewNop(), 80, 10)
	id := uuid.New()

	frames := make(chan ingest.Frame, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Run(ctx, frames)
		close(done)
	}()

	frames <- makeBGRFrame(id, 8, 8)

	deadline := time.After(time.Second)
	for {
		if _, ok := d.LatestJPEG(id); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for Run to process a frame")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Run to exit after context cancellation")
	}
}

func TestDistributorGetRelayUnconfigured(t *testing.T) {
	d := NewDistributor(zap.NewNop(), 80, 10)
	if _, ok := d.GetRelay(uuid.New()); ok {
		t.Fatal("expected no relay configured for an unknown source")
	}
}
