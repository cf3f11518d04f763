package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

const maxMJPEGFrameBytes = 4 * 1024 * 1024

// mjpegAdapter captures an HTTP multipart/x-mixed-replace MJPEG stream
// (the common output of IP cameras and the mjpeg_generator this engine
// itself exposes). The SOI/EOI marker scan is adapted from the teacher's
// GStreamer-stdout frame reader, retargeted to an http.Response.Body.
type mjpegAdapter struct {
	*baseAdapter

	mu     sync.Mutex
	resp   *http.Response
	reader *bufio.Reader
}

// NewMJPEGAdapter constructs a SourceAdapter that captures from an HTTP
// MJPEG stream.
func NewMJPEGAdapter(cfg AdapterConfig, logger *zap.Logger) SourceAdapter {
	a := &mjpegAdapter{}
	a.baseAdapter = newBaseAdapter(cfg, a, logger)
	return a
}

func (a *mjpegAdapter) protocol() string { return "mjpeg" }

func (a *mjpegAdapter) primitiveConnect(ctx context.Context) error {
	// The response body must outlive ctx, which only bounds this connect
	// call: the request runs on a detached context that ctx can cancel only
	// until primitiveConnect returns.
	reqCtx, cancelReq := context.WithCancel(context.WithoutCancel(ctx))
	stopAbort := context.AfterFunc(ctx, cancelReq)
	defer stopAbort()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, a.cfg.URI, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if a.cfg.Username != "" {
		req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	a.mu.Lock()
	a.resp = resp
	a.reader = bufio.NewReaderSize(resp.Body, 64*1024)
	a.mu.Unlock()
	return nil
}

func (a *mjpegAdapter) primitiveRead(ctx context.Context) (*RawFrame, error) {
	a.mu.Lock()
	reader := a.reader
	a.mu.Unlock()
	if reader == nil {
		return nil, fmt.Errorf("mjpeg: not connected")
	}

	jpegData, err := readJPEGFrame(reader)
	if err != nil {
		return nil, err
	}

	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}
	return imageToRawFrame(img), nil
}

func (a *mjpegAdapter) primitiveDisconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resp != nil {
		a.resp.Body.Close()
		a.resp = nil
	}
	a.reader = nil
	return nil
}

// readJPEGFrame scans a byte stream for one complete SOI..EOI delimited
// JPEG image, skipping any multipart boundary/header bytes in between
// (they never themselves contain a 0xFFD8 sequence).
func readJPEGFrame(reader *bufio.Reader) ([]byte, error) {
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != 0xFF {
			continue
		}
		next, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if next != 0xD8 {
			continue
		}

		frame := make([]byte, 0, 64*1024)
		frame = append(frame, 0xFF, 0xD8)

		for {
			b, err := reader.ReadByte()
			if err != nil {
				return nil, err
			}
			frame = append(frame, b)

			if len(frame) >= 2 && frame[len(frame)-2] == 0xFF && frame[len(frame)-1] == 0xD9 {
				return frame, nil
			}
			if len(frame) > maxMJPEGFrameBytes {
				return nil, fmt.Errorf("jpeg frame exceeds %d bytes", maxMJPEGFrameBytes)
			}
		}
	}
}
