package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDetectSourceType(t *testing.T) {
	cases := []struct {
		uri  string
		want string
	}{
		{"rtsp://192.168.1.10:554/stream1", "rtsp"},
		{"RTSP://camera.local/feed", "rtsp"},
		{"http://192.168.1.20:8080/video", "mjpeg"},
		{"https://camera.local/mjpeg", "mjpeg"},
		{"0", "usb"},
		{"2", "usb"},
		{"/dev/video0", "usb"},
		{"/videos/sample.mp4", "file"},
		{"sample.mp4", "file"},
	}

	for _, c := range cases {
		t.Run(c.uri, func(t *testing.T) {
			if got := detectSourceType(c.uri); got != c.want {
				t.Errorf("detectSourceType(%q) = %q, want %q", c.uri, got, c.want)
			}
		})
	}
}

func TestManagerAddRemoveSource(t *testing.T) {
	m := NewManager(testLogger(), 10, 5, 4)

	id, err := m.AddSource(context.Background(), AddSourceRequest{
		Name:       "sample",
		SourceType: "file",
		URI:        "/nonexistent/sample.mp4",
	})
	if err != nil {
		t.Fatalf("AddSource failed: %v", err)
	}
	if m.SourceCount() != 1 {
		t.Errorf("SourceCount = %d, want 1", m.SourceCount())
	}

	if _, ok := m.GetStatus(id); !ok {
		t.Fatal("expected status for newly added source")
	}

	if !m.RemoveSource(id) {
		t.Fatal("expected RemoveSource to return true for existing source")
	}
	if m.SourceCount() != 0 {
		t.Errorf("SourceCount after removal = %d, want 0", m.SourceCount())
	}
	if m.RemoveSource(id) {
		t.Fatal("expected RemoveSource to return false for already-removed source")
	}
}

func TestManagerEnforcesMaxSources(t *testing.T) {
	m := NewManager(testLogger(), 10, 2, 4)

	for i := 0; i < 2; i++ {
		if _, err := m.AddSource(context.Background(), AddSourceRequest{
			Name:       "sample",
			SourceType: "file",
			URI:        "/nonexistent/sample.mp4",
		}); err != nil {
			t.Fatalf("AddSource %d failed: %v", i, err)
		}
	}

	if _, err := m.AddSource(context.Background(), AddSourceRequest{
		Name:       "overflow",
		SourceType: "file",
		URI:        "/nonexistent/other.mp4",
	}); err == nil {
		t.Fatal("expected AddSource to fail once max_sources is reached")
	}
}

func TestManagerAddSourceReplacesExistingID(t *testing.T) {
	m := NewManager(testLogger(), 10, 5, 4)
	id := uuid.New()

	if _, err := m.AddSource(context.Background(), AddSourceRequest{
		SourceID: id, Name: "first", SourceType: "file", URI: "/nonexistent/a.mp4",
	}); err != nil {
		t.Fatalf("first AddSource failed: %v", err)
	}
	if _, err := m.AddSource(context.Background(), AddSourceRequest{
		SourceID: id, Name: "second", SourceType: "file", URI: "/nonexistent/b.mp4",
	}); err != nil {
		t.Fatalf("replacing AddSource failed: %v", err)
	}

	if m.SourceCount() != 1 {
		t.Errorf("SourceCount = %d, want 1 after replacing the same source id", m.SourceCount())
	}
}

func TestManagerOnlineCountExcludesOfflineSources(t *testing.T) {
	m := NewManager(testLogger(), 10, 5, 4)

	id, err := m.AddSource(context.Background(), AddSourceRequest{
		Name: "sample", SourceType: "file", URI: "/nonexistent/sample.mp4",
	})
	if err != nil {
		t.Fatalf("AddSource failed: %v", err)
	}

	// The file adapter can never actually connect to a nonexistent path, so
	// it stays in connecting/error and should never count as online.
	time.Sleep(20 * time.Millisecond)
	if m.OnlineCount() != 0 {
		t.Errorf("OnlineCount = %d, want 0 for a source that never connected", m.OnlineCount())
	}

	m.RemoveSource(id)
}
