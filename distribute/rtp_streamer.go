package distribute

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// relayStreamerConfig configures one source's RTP/UDP relay destination.
type relayStreamerConfig struct {
	DestHost string
	DestPort int
	MTU      int
	Width    int
	Height   int
	FPS      int
	SSRC     uint32
	// ChannelSize sizes the send queue between the distributor's cache
	// write and this streamer's UDP loop; <= 0 defaults to 10.
	ChannelSize int
}

// relayStreamer sends a single source's JPEG frames as RFC 2435 RTP/UDP
// packets to one destination. Adapted from the teacher's mjpeg.Streamer,
// generalized from "one of two fixed Pi cameras" to "any registered
// source with a configured relay target."
type relayStreamer struct {
	cfg    relayStreamerConfig
	logger *zap.Logger

	conn     *net.UDPConn
	destAddr *net.UDPAddr

	packetizer *rtpPacketizer
	tsGen      *timestampGenerator

	frameChan chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	running    atomic.Bool
	frameCount uint64
	dropCount  uint64
	sendErrors uint64
}

func newRelayStreamer(cfg relayStreamerConfig, logger *zap.Logger) *relayStreamer {
	if cfg.MTU <= 0 {
		cfg.MTU = defaultMTU
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 10
	}
	if cfg.ChannelSize <= 0 {
		cfg.ChannelSize = 10
	}
	return &relayStreamer{
		cfg:        cfg,
		logger:     logger,
		packetizer: newRTPPacketizer(cfg.SSRC, cfg.MTU),
		tsGen:      newTimestampGenerator(cfg.FPS),
		frameChan:  make(chan []byte, cfg.ChannelSize),
	}
}

func (s *relayStreamer) start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("relay already running")
	}

	destAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.cfg.DestHost, s.cfg.DestPort))
	if err != nil {
		return fmt.Errorf("resolve relay destination: %w", err)
	}
	s.destAddr = destAddr

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("open relay socket: %w", err)
	}
	s.conn = conn

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.loop()
	return nil
}

func (s *relayStreamer) stop() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	s.cancel()
	close(s.frameChan)
	s.wg.Wait()
	if s.conn != nil {
		s.conn.Close()
	}
}

// send enqueues a JPEG frame for relay, dropping it if the send queue is
// already full rather than blocking the distributor's cache write.
func (s *relayStreamer) send(jpegData []byte) {
	if !s.running.Load() {
		return
	}
	select {
	case s.frameChan <- jpegData:
	default:
		atomic.AddUint64(&s.dropCount, 1)
	}
}

func (s *relayStreamer) loop() {
	defer s.wg.Done()

	var frameNum uint64
	for {
		select {
		case <-s.ctx.Done():
			return
		case jpegData, ok := <-s.frameChan:
			if !ok {
				return
			}
			if err := s.sendFrameRTP(jpegData, frameNum); err != nil {
				atomic.AddUint64(&s.sendErrors, 1)
				s.logger.Debug("relay send failed", zap.Error(err))
			} else {
				atomic.AddUint64(&s.frameCount, 1)
			}
			frameNum++
		}
	}
}

func (s *relayStreamer) sendFrameRTP(jpegData []byte, frameNum uint64) error {
	timestamp := s.tsGen.nextFrameBased(frameNum)
	packets, err := s.packetizer.packetizeJPEG(jpegData, s.cfg.Width, s.cfg.Height, timestamp)
	if err != nil {
		return fmt.Errorf("packetize: %w", err)
	}
	for i, packet := range packets {
		if _, err := s.conn.WriteToUDP(packet, s.destAddr); err != nil {
			return fmt.Errorf("write packet %d/%d: %w", i+1, len(packets), err)
		}
	}
	return nil
}

type relayStats struct {
	FramesSent    uint64
	FramesDropped uint64
	SendErrors    uint64
	Destination   string
}

func (s *relayStreamer) stats() relayStats {
	dest := ""
	if s.destAddr != nil {
		dest = s.destAddr.String()
	}
	return relayStats{
		FramesSent:    atomic.LoadUint64(&s.frameCount),
		FramesDropped: atomic.LoadUint64(&s.dropCount),
		SendErrors:    atomic.LoadUint64(&s.sendErrors),
		Destination:   dest,
	}
}
