package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// fakePrimitives is a scriptable primitives implementation for exercising
// baseAdapter without a real protocol.
type fakePrimitives struct {
	mu          sync.Mutex
	connectErrs []error // consumed in order, then nil forever
	frames      []*RawFrame
	readErr     error
	connects    int
	disconnects int
}

func (f *fakePrimitives) protocol() string { return "fake" }

func (f *fakePrimitives) primitiveConnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakePrimitives) primitiveRead(ctx context.Context) (*RawFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	if len(f.frames) == 0 {
		return nil, nil
	}
	frame := f.frames[0]
	f.frames = f.frames[1:]
	return frame, nil
}

func (f *fakePrimitives) primitiveDisconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func testLogger() *zap.Logger { return zap.NewNop() }

func TestBaseAdapterConnectSuccess(t *testing.T) {
	fp := &fakePrimitives{}
	a := newBaseAdapter(AdapterConfig{SourceID: uuid.New(), Name: "cam", TargetFPS: 10}, fp, testLogger())

	if !a.connect(context.Background()) {
		t.Fatal("expected connect to succeed")
	}
	st := a.status()
	if st.Error != nil {
		t.Errorf("expected no error after successful connect, got %v", *st.Error)
	}
}

func TestBaseAdapterConnectFailureSetsError(t *testing.T) {
	fp := &fakePrimitives{connectErrs: []error{errors.New("boom")}}
	a := newBaseAdapter(AdapterConfig{SourceID: uuid.New(), Name: "cam", TargetFPS: 10}, fp, testLogger())

	if a.connect(context.Background()) {
		t.Fatal("expected connect to fail")
	}
	st := a.status()
	if st.State != StateConnecting && st.State != StateError {
		t.Errorf("unexpected state after failed first connect: %v", st.State)
	}
	if st.Error == nil || *st.Error != "boom" {
		t.Errorf("expected last error 'boom', got %v", st.Error)
	}
}

func TestBaseAdapterStatusBecomesErrorAfterEverConnected(t *testing.T) {
	fp := &fakePrimitives{}
	a := newBaseAdapter(AdapterConfig{SourceID: uuid.New(), Name: "cam", TargetFPS: 10}, fp, testLogger())

	if !a.connect(context.Background()) {
		t.Fatal("expected initial connect to succeed")
	}

	fp.readErr = errors.New("read failed")
	if frame := a.read(context.Background()); frame != nil {
		t.Fatal("expected read to return nil on primitive error")
	}

	st := a.status()
	if st.State != StateError {
		t.Errorf("state = %v, want %v", st.State, StateError)
	}
	if st.Error == nil || *st.Error != "read failed" {
		t.Errorf("expected last error 'read failed', got %v", st.Error)
	}
}

func TestBaseAdapterFPSWindow(t *testing.T) {
	fp := &fakePrimitives{}
	a := newBaseAdapter(AdapterConfig{SourceID: uuid.New(), Name: "cam", TargetFPS: 10}, fp, testLogger())
	if !a.connect(context.Background()) {
		t.Fatal("connect failed")
	}

	fp.frames = []*RawFrame{{Image: []byte{1}, Width: 1, Height: 1, Channels: 1}}
	if frame := a.read(context.Background()); frame == nil {
		t.Fatal("expected a frame")
	}

	time.Sleep(5 * time.Millisecond)
	fp.frames = []*RawFrame{{Image: []byte{1}, Width: 1, Height: 1, Channels: 1}}
	if frame := a.read(context.Background()); frame == nil {
		t.Fatal("expected a second frame")
	}

	if a.currentFPS() <= 0 {
		t.Errorf("expected a positive fps sample after two reads, got %f", a.currentFPS())
	}
	if a.framesTotal != 2 {
		t.Errorf("framesTotal = %d, want 2", a.framesTotal)
	}
}

func TestBaseAdapterReconnectRespectsAttemptCeiling(t *testing.T) {
	fp := &fakePrimitives{connectErrs: []error{errors.New("1"), errors.New("2"), errors.New("3")}}
	a := newBaseAdapter(AdapterConfig{
		SourceID:          uuid.New(),
		Name:              "cam",
		TargetFPS:         10,
		ReconnectAttempts: 2,
		ReconnectDelayS:   0.001,
	}, fp, testLogger())
	a.running = true

	ok := a.reconnect(context.Background())
	if ok {
		t.Fatal("expected reconnect to give up after exhausting attempts")
	}
	if a.reconnectCnt != 2 {
		t.Errorf("reconnectCnt = %d, want 2", a.reconnectCnt)
	}
}
