package ingest

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// round1 rounds x to one decimal place, matching spec.md §4.5's wire
// precision for fps_current, uptime_s, and latency_ms.
func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

const fpsWindowSize = 30

// RawFrame is what a concrete adapter's primitive-read hands back to the
// base adapter: decoded pixels only, no metadata. The base adapter fills
// in sequence, timestamp and CaptureMeta.
type RawFrame struct {
	Image    []byte
	Width    int
	Height   int
	Channels int
}

// primitives is the set of protocol-specific operations a concrete adapter
// must supply. All three may block; callers run them off the coordination
// goroutine.
type primitives interface {
	// protocol is a constant tag such as "rtsp", "mjpeg", "usb", "file".
	protocol() string
	// primitiveConnect opens the underlying handle. A non-nil error means
	// connect failed; the message becomes last_error.
	primitiveConnect(ctx context.Context) error
	// primitiveRead captures a single frame. (nil, nil) means "no frame
	// this call" (counted as a dropped frame, not a disconnect). A non-nil
	// error means the primitive considers the source lost; the adapter
	// will mark itself disconnected and re-enter the reconnect path.
	primitiveRead(ctx context.Context) (*RawFrame, error)
	// primitiveDisconnect releases the handle. Idempotent.
	primitiveDisconnect(ctx context.Context) error
}

// AdapterConfig groups the construction parameters common to every
// protocol adapter (spec.md §4.1).
type AdapterConfig struct {
	SourceID          uuid.UUID
	Name              string
	URI               string
	TargetFPS         int
	ReconnectAttempts int // -1 = infinite
	ReconnectDelayS   float64
	TimeoutS          float64
	Username          string
	Password          string

	// Width/Height are the frame dimensions used by subprocess-backed
	// adapters (usb, file) to size their raw-video decode buffer; RTSP and
	// MJPEG sources report their own dimensions per frame instead.
	Width  int
	Height int
}

// baseAdapter implements the SourceAdapter contract (connect / read / run /
// disconnect / status) shared across all protocols. Concrete adapters embed
// it and supply primitives.
type baseAdapter struct {
	cfg    AdapterConfig
	logger *zap.Logger
	p      primitives

	mu            sync.Mutex
	connected     bool
	everConnected bool
	running       bool
	sequence      int
	framesTotal   int
	framesDropped int
	reconnectCnt  int
	connectTime   time.Time
	lastFrameTime time.Time
	lastError     *string
	fpsSamples    []float64
}

func newBaseAdapter(cfg AdapterConfig, p primitives, logger *zap.Logger) *baseAdapter {
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = 1
	}
	return &baseAdapter{
		cfg:    cfg,
		logger: logger.With(zap.String("source", cfg.Name), zap.String("protocol", p.protocol())),
		p:      p,
	}
}

func (a *baseAdapter) ID() uuid.UUID { return a.cfg.SourceID }
func (a *baseAdapter) Name() string  { return a.cfg.Name }

// connect attempts to establish the session. Never returns an error to the
// caller — failures are recorded as last_error and reported as false.
func (a *baseAdapter) connect(ctx context.Context) bool {
	a.logger.Info("connecting", zap.String("uri", a.cfg.URI))

	cctx, cancel := a.withTimeout(ctx)
	defer cancel()

	err := a.p.primitiveConnect(cctx)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err == nil {
		a.connected = true
		a.everConnected = true
		a.connectTime = time.Now()
		a.lastError = nil
		a.logger.Info("connected")
		return true
	}

	a.connected = false
	msg := err.Error()
	a.lastError = &msg
	a.logger.Warn("connect failed", zap.Error(err))
	return false
}

// read captures a single frame. Preconditions: connected. On primitive
// failure increments frames_dropped and returns nil.
func (a *baseAdapter) read(ctx context.Context) *Frame {
	a.mu.Lock()
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return nil
	}

	cctx, cancel := a.withTimeout(ctx)
	defer cancel()

	t0 := time.Now()
	raw, err := a.p.primitiveRead(cctx)
	latency := time.Since(t0)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err != nil {
		msg := err.Error()
		a.lastError = &msg
		a.connected = false
		a.framesDropped++
		a.logger.Error("read failed, disconnecting", zap.Error(err))
		return nil
	}

	if raw == nil {
		a.framesDropped++
		return nil
	}

	now := time.Now()
	if !a.lastFrameTime.IsZero() {
		dt := now.Sub(a.lastFrameTime).Seconds()
		if dt > 0 {
			a.fpsSamples = append(a.fpsSamples, 1.0/dt)
			if len(a.fpsSamples) > fpsWindowSize {
				a.fpsSamples = a.fpsSamples[1:]
			}
		}
	}
	a.lastFrameTime = now

	a.sequence++
	a.framesTotal++

	return &Frame{
		SourceID:  a.cfg.SourceID,
		Sequence:  a.sequence,
		Timestamp: now.UTC(),
		Image:     raw.Image,
		Width:     raw.Width,
		Height:    raw.Height,
		Channels:  raw.Channels,
		CaptureMeta: CaptureMeta{
			Protocol:      a.p.protocol(),
			LatencyMS:     round1(float64(latency.Microseconds()) / 1000.0),
			DroppedFrames: a.framesDropped,
			FPSMeasured:   round1(a.currentFPS()),
		},
	}
}

// run is the per-source capture loop (spec.md §4.2). It blocks until ctx is
// cancelled or reconnection is exhausted, pushing frames onto queue with a
// non-blocking put.
func (a *baseAdapter) run(ctx context.Context, queue chan<- Frame) {
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	interval := time.Second / time.Duration(a.cfg.TargetFPS)

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		a.disconnect(context.Background())
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		a.mu.Lock()
		connected := a.connected
		a.mu.Unlock()

		if !connected {
			if !a.reconnect(ctx) {
				return
			}
			continue
		}

		stepStart := time.Now()

		frame := a.read(ctx)
		if frame != nil {
			select {
			case queue <- *frame:
			default:
				a.mu.Lock()
				a.framesDropped++
				a.mu.Unlock()
			}
		} else {
			a.mu.Lock()
			stillConnected := a.connected
			a.mu.Unlock()
			if !stillConnected {
				continue
			}
		}

		elapsed := time.Since(stepStart)
		sleepFor := interval - elapsed
		if sleepFor > 0 {
			select {
			case <-time.After(sleepFor):
			case <-ctx.Done():
				return
			}
		}
	}
}

// reconnect retries connect until success, ctx cancellation, or the
// configured attempt ceiling is reached.
func (a *baseAdapter) reconnect(ctx context.Context) bool {
	attempts := 0
	for {
		if ctx.Err() != nil {
			return false
		}

		a.mu.Lock()
		running := a.running
		a.mu.Unlock()
		if !running {
			return false
		}

		if a.cfg.ReconnectAttempts >= 0 && attempts >= a.cfg.ReconnectAttempts {
			a.logger.Error("exhausted reconnect attempts", zap.Int("attempts", a.cfg.ReconnectAttempts))
			return false
		}

		attempts++
		a.mu.Lock()
		a.reconnectCnt++
		a.mu.Unlock()
		a.logger.Info("reconnecting", zap.Int("attempt", attempts))

		if a.connect(ctx) {
			return true
		}

		delay := time.Duration(a.cfg.ReconnectDelayS * float64(time.Second))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}
	}
}

// disconnect sets running/connected false and releases the handle.
// Idempotent; primitive errors are logged and swallowed.
func (a *baseAdapter) disconnect(ctx context.Context) {
	a.mu.Lock()
	a.running = false
	a.connected = false
	a.mu.Unlock()

	if err := a.p.primitiveDisconnect(ctx); err != nil {
		a.logger.Warn("disconnect error", zap.Error(err))
	}
}

func (a *baseAdapter) currentFPS() float64 {
	if len(a.fpsSamples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range a.fpsSamples {
		sum += s
	}
	return sum / float64(len(a.fpsSamples))
}

// status computes a SourceStatus snapshot, pure function of internal state.
func (a *baseAdapter) status() SourceStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	fps := a.currentFPS()

	var state SourceState
	switch {
	case !a.everConnected && a.lastError == nil:
		state = StateConnecting
	case !a.connected && a.lastError != nil:
		state = StateError
	case !a.connected:
		state = StateOffline
	case fps < float64(a.cfg.TargetFPS)*0.5:
		state = StateDegraded
	default:
		state = StateOnline
	}

	var uptime float64
	if !a.connectTime.IsZero() {
		uptime = time.Since(a.connectTime).Seconds()
	}

	var lastFrameAt *time.Time
	var latencyMS float64
	if !a.lastFrameTime.IsZero() {
		t := a.lastFrameTime.UTC()
		lastFrameAt = &t
		latencyMS = float64(time.Since(a.lastFrameTime).Microseconds()) / 1000.0
	}

	return SourceStatus{
		SourceID:       a.cfg.SourceID,
		State:          state,
		FPSCurrent:     round1(fps),
		FPSTarget:      float64(a.cfg.TargetFPS),
		FramesTotal:    a.framesTotal,
		FramesDropped:  a.framesDropped,
		LastFrameAt:    lastFrameAt,
		UptimeS:        round1(uptime),
		Error:          a.lastError,
		ReconnectCount: a.reconnectCnt,
		LatencyMS:      round1(latencyMS),
	}
}

func (a *baseAdapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := a.cfg.TimeoutS
	if timeout <= 0 {
		timeout = 10
	}
	return context.WithTimeout(ctx, time.Duration(timeout*float64(time.Second)))
}

// SourceAdapter is the public contract every protocol adapter satisfies.
type SourceAdapter interface {
	ID() uuid.UUID
	Name() string
	Connect(ctx context.Context) bool
	Run(ctx context.Context, queue chan<- Frame)
	Disconnect(ctx context.Context)
	Status() SourceStatus
	Protocol() string
}

func (a *baseAdapter) Connect(ctx context.Context) bool            { return a.connect(ctx) }
func (a *baseAdapter) Run(ctx context.Context, queue chan<- Frame) { a.run(ctx, queue) }
func (a *baseAdapter) Disconnect(ctx context.Context)              { a.disconnect(ctx) }
func (a *baseAdapter) Status() SourceStatus                        { return a.status() }
func (a *baseAdapter) Protocol() string                            { return a.p.protocol() }
