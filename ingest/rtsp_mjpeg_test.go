package ingest

import (
	"bytes"
	"testing"

	"github.com/pion/rtp"
)

func TestBuildJFIFMarkerStructure(t *testing.T) {
	scan := bytes.Repeat([]byte{0x00}, 16)
	jfif, err := buildJFIF(0, 50, 16, 16, nil, 0, scan)
	if err != nil {
		t.Fatalf("buildJFIF failed: %v", err)
	}

	if !bytes.HasPrefix(jfif, []byte{0xFF, 0xD8}) {
		t.Fatal("expected JFIF to start with SOI marker")
	}
	if !bytes.HasSuffix(jfif, []byte{0xFF, 0xD9}) {
		t.Fatal("expected JFIF to end with EOI marker")
	}

	for _, marker := range [][]byte{
		{0xFF, 0xDB}, // DQT
		{0xFF, 0xC4}, // DHT
		{0xFF, 0xC0}, // SOF0
		{0xFF, 0xDA}, // SOS
	} {
		if !bytes.Contains(jfif, marker) {
			t.Errorf("expected JFIF to contain marker % X", marker)
		}
	}
}

func TestBuildJFIFRejectsZeroDimensions(t *testing.T) {
	if _, err := buildJFIF(0, 50, 0, 16, nil, 0, []byte{0x00}); err == nil {
		t.Fatal("expected an error for a zero-width frame")
	}
}

func TestMJPEGReassemblerRejectsShortHeader(t *testing.T) {
	r := newMJPEGReassembler()
	pkt := &rtp.Packet{Payload: []byte{0x00, 0x00, 0x00}}
	if _, err := r.push(pkt); err == nil {
		t.Fatal("expected an error for a too-short rtp/jpeg header")
	}
}

func TestMJPEGReassemblerRejectsFragmentBeforeStart(t *testing.T) {
	r := newMJPEGReassembler()
	// fragment offset != 0 in a reassembler that has never seen offset 0
	payload := []byte{0x00, 0x00, 0x00, 0x01, 0x00, 50, 10, 10, 0xAA, 0xBB}
	pkt := &rtp.Packet{Payload: payload}
	if _, err := r.push(pkt); err == nil {
		t.Fatal("expected an error for a fragment received before the start-of-frame packet")
	}
}

func TestMJPEGReassemblerAccumulatesUntilMarker(t *testing.T) {
	r := newMJPEGReassembler()

	first := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 50, 2, 2, 0x01, 0x02}
	frame, err := r.push(&rtp.Packet{Payload: first})
	if err != nil {
		t.Fatalf("unexpected error on start fragment: %v", err)
	}
	if frame != nil {
		t.Fatal("expected no frame before the marker bit is set")
	}
	if len(r.scan) != 2 {
		t.Fatalf("scan buffer = %d bytes, want 2 after the first fragment", len(r.scan))
	}
}
