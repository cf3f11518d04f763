package ingest

import (
	"bufio"
	"bytes"
	"testing"
)

func TestReadJPEGFrameSkipsMultipartBoundary(t *testing.T) {
	boundary := "--frame\r\nContent-Type: image/jpeg\r\n\r\n"
	jpegBytes := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	var buf bytes.Buffer
	buf.WriteString(boundary)
	buf.Write(jpegBytes)
	buf.WriteString("\r\n")

	reader := bufio.NewReader(&buf)
	frame, err := readJPEGFrame(reader)
	if err != nil {
		t.Fatalf("readJPEGFrame failed: %v", err)
	}
	if !bytes.Equal(frame, jpegBytes) {
		t.Errorf("frame = % X, want % X", frame, jpegBytes)
	}
}

func TestReadJPEGFrameReturnsErrorOnTruncatedStream(t *testing.T) {
	reader := bufio.NewReader(bytes.NewReader([]byte{0xFF, 0xD8, 0x01, 0x02}))
	if _, err := readJPEGFrame(reader); err == nil {
		t.Fatal("expected an error for a stream with no EOI marker")
	}
}

func TestReadJPEGFrameRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xD8})
	buf.Write(bytes.Repeat([]byte{0x00}, maxMJPEGFrameBytes+16))

	reader := bufio.NewReader(&buf)
	if _, err := readJPEGFrame(reader); err == nil {
		t.Fatal("expected an error for an oversized frame")
	}
}
