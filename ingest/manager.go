package ingest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AddSourceRequest is the input to Manager.AddSource. SourceType may be
// left empty to auto-detect from URI (spec.md §4.3's detect_source_type).
type AddSourceRequest struct {
	SourceID   uuid.UUID
	Name       string
	SourceType string
	URI        string
	TargetFPS  int
	// ReconnectAttempts is nil when the caller omitted the field (defaults
	// to -1, infinite retries); a non-nil 0 is honored as-is, so
	// "reconnect_attempts": 0 reliably causes immediate loop exit on the
	// first connect failure.
	ReconnectAttempts *int
	ReconnectDelayS   float64
	TimeoutS          float64
	Username          string
	Password          string
	Width             int
	Height            int
}

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// detectSourceType implements the original service's URI sniffing rules:
// rtsp:// is rtsp, http(s):// is always mjpeg, an all-digit string or a
// /dev/videoN path is usb, a known video-file suffix (or anything else) is
// file.
func detectSourceType(uri string) string {
	lower := strings.ToLower(strings.TrimSpace(uri))
	switch {
	case strings.HasPrefix(lower, "rtsp://"):
		return "rtsp"
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return "mjpeg"
	case digitsOnly.MatchString(strings.TrimSpace(uri)), strings.HasPrefix(lower, "/dev/video"):
		return "usb"
	default:
		return "file"
	}
}

type managedSource struct {
	adapter SourceAdapter
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager is the hot-pluggable source registry (spec.md §4.3): it owns the
// shared frame queue, auto-detects protocol, and enforces MaxSources.
// Grounded on the teacher's camera.Manager / mjpeg.Manager map-of-instances
// plus sync.RWMutex pattern, retargeted from two fixed cameras to an
// arbitrary, dynamically-registered source set.
type Manager struct {
	logger *zap.Logger

	defaultFPS int
	maxSources int

	mu      sync.RWMutex
	sources map[uuid.UUID]*managedSource
	queue   chan Frame
}

// NewManager constructs a Manager with a shared frame queue of the given
// capacity (spec.md §6's frame_queue_size, default 30).
func NewManager(logger *zap.Logger, defaultFPS, maxSources, queueSize int) *Manager {
	return &Manager{
		logger:     logger.With(zap.String("component", "ingest.manager")),
		defaultFPS: defaultFPS,
		maxSources: maxSources,
		sources:    make(map[uuid.UUID]*managedSource),
		queue:      make(chan Frame, queueSize),
	}
}

// Frames returns the shared, multi-producer/single-consumer channel every
// adapter publishes onto. Layer 2 (out of scope) and distribute.Distributor
// are the consumers.
func (m *Manager) Frames() <-chan Frame { return m.queue }

// AddSource registers and starts a new source, replacing any existing
// source with the same ID first (matches the original service's
// add_source semantics).
func (m *Manager) AddSource(ctx context.Context, req AddSourceRequest) (uuid.UUID, error) {
	if req.SourceID == uuid.Nil {
		req.SourceID = uuid.New()
	}
	if req.TargetFPS <= 0 {
		req.TargetFPS = m.defaultFPS
	}

	sourceType := req.SourceType
	if sourceType == "" {
		sourceType = detectSourceType(req.URI)
	}

	m.mu.Lock()
	if _, exists := m.sources[req.SourceID]; exists {
		m.mu.Unlock()
		m.RemoveSource(req.SourceID)
		m.mu.Lock()
	}
	if len(m.sources) >= m.maxSources {
		m.mu.Unlock()
		return uuid.Nil, fmt.Errorf("max_sources limit reached (%d)", m.maxSources)
	}
	m.mu.Unlock()

	reconnectAttempts := -1 // infinite, unless the caller supplied a value
	if req.ReconnectAttempts != nil {
		reconnectAttempts = *req.ReconnectAttempts
	}

	cfg := AdapterConfig{
		SourceID:          req.SourceID,
		Name:              req.Name,
		URI:               req.URI,
		TargetFPS:         req.TargetFPS,
		ReconnectAttempts: reconnectAttempts,
		ReconnectDelayS:   req.ReconnectDelayS,
		TimeoutS:          req.TimeoutS,
		Username:          req.Username,
		Password:          req.Password,
		Width:             req.Width,
		Height:            req.Height,
	}
	if cfg.ReconnectDelayS <= 0 {
		cfg.ReconnectDelayS = 5.0
	}
	if cfg.TimeoutS <= 0 {
		cfg.TimeoutS = 10.0
	}

	adapter, err := newAdapter(sourceType, cfg, m.logger)
	if err != nil {
		return uuid.Nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	record := &managedSource{adapter: adapter, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.sources[req.SourceID] = record
	m.mu.Unlock()

	go func() {
		defer close(record.done)
		adapter.Run(sctx, m.queue)
	}()

	m.logger.Info("source added",
		zap.String("id", req.SourceID.String()),
		zap.String("type", sourceType),
		zap.String("uri", req.URI))

	return req.SourceID, nil
}

// RemoveSource stops and unregisters a source, returning false if it
// didn't exist.
func (m *Manager) RemoveSource(id uuid.UUID) bool {
	m.mu.Lock()
	record, ok := m.sources[id]
	if ok {
		delete(m.sources, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	record.cancel()
	<-record.done
	m.logger.Info("source removed", zap.String("id", id.String()))
	return true
}

// GetStatus returns a single source's status snapshot, or false if the ID
// isn't registered.
func (m *Manager) GetStatus(id uuid.UUID) (SourceStatus, bool) {
	m.mu.RLock()
	record, ok := m.sources[id]
	m.mu.RUnlock()
	if !ok {
		return SourceStatus{}, false
	}
	return record.adapter.Status(), true
}

// GetAllStatus returns a status snapshot for every registered source.
func (m *Manager) GetAllStatus() map[uuid.UUID]SourceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[uuid.UUID]SourceStatus, len(m.sources))
	for id, record := range m.sources {
		out[id] = record.adapter.Status()
	}
	return out
}

// SourceCount returns the number of registered sources.
func (m *Manager) SourceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sources)
}

// OnlineCount returns the number of sources in the online or degraded
// state (matches the original service's online_count: "producing frames,
// even if below target rate").
func (m *Manager) OnlineCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, record := range m.sources {
		st := record.adapter.Status().State
		if st == StateOnline || st == StateDegraded {
			n++
		}
	}
	return n
}

// StopAll stops every registered source.
func (m *Manager) StopAll() {
	m.mu.RLock()
	ids := make([]uuid.UUID, 0, len(m.sources))
	for id := range m.sources {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.RemoveSource(id)
	}
}

func newAdapter(sourceType string, cfg AdapterConfig, logger *zap.Logger) (SourceAdapter, error) {
	switch sourceType {
	case "rtsp", "onvif":
		return NewRTSPAdapter(cfg, logger), nil
	case "mjpeg":
		return NewMJPEGAdapter(cfg, logger), nil
	case "usb":
		return NewUSBAdapter(cfg, logger), nil
	case "file":
		return NewFileAdapter(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported source type %q", sourceType)
	}
}
