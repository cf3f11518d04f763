// Package distribute implements Layer 1's fan-out: turning the latest
// captured Frame per source into a JPEG any HTTP client can consume, and
// optionally relaying that same JPEG over RTP/UDP to a recording or NVR
// endpoint.
package distribute

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// RFC 2435 JPEG/RTP constants, unchanged from the teacher's MJPEG-over-RTP
// encoder this package adapts.
const (
	rtpVersion         = 2
	rtpPayloadTypeJPEG = 26
	rtpHeaderSize      = 12
	jpegHeaderSize     = 8

	defaultMTU     = 1400
	maxPayloadSize = defaultMTU - rtpHeaderSize - jpegHeaderSize
	rtpClockRate   = 90000
)

// rtpPacketizer splits a JPEG frame into RTP packets per RFC 2435, for the
// optional relay sink (spec's supplemental NVR fan-out feature). Adapted
// directly from the teacher's mjpeg.RTPPacketizer.
type rtpPacketizer struct {
	payloadType    uint8
	ssrc           uint32
	mtu            int
	maxPayloadSize int

	sequenceNumber uint32
	timestamp      uint32
	clockRate      uint32

	packetsSent uint64
	bytesSent   uint64
	framesSent  uint64
}

func newRTPPacketizer(ssrc uint32, mtu int) *rtpPacketizer {
	if mtu <= 0 {
		mtu = defaultMTU
	}
	maxPayload := mtu - rtpHeaderSize - jpegHeaderSize
	if maxPayload <= 0 {
		maxPayload = maxPayloadSize
	}

	return &rtpPacketizer{
		payloadType:    rtpPayloadTypeJPEG,
		ssrc:           ssrc,
		mtu:            mtu,
		maxPayloadSize: maxPayload,
		clockRate:      rtpClockRate,
	}
}

// packetizeJPEG splits jpegData (a full JFIF image, SOI..EOI) into RTP
// packets. The packets carry the full JPEG bytes as scan data; a
// conformant RFC 2435 receiver synthesizes its own quantization/Huffman
// headers from the Q/type/dimension fields, same as ingest's own
// mjpegReassembler does on the capture side.
func (p *rtpPacketizer) packetizeJPEG(jpegData []byte, width, height int, timestamp uint32) ([][]byte, error) {
	if len(jpegData) == 0 {
		return nil, fmt.Errorf("empty JPEG data")
	}
	if len(jpegData) < 2 || jpegData[0] != 0xFF || jpegData[1] != 0xD8 {
		return nil, fmt.Errorf("invalid JPEG: missing SOI marker")
	}

	numPackets := (len(jpegData) + p.maxPayloadSize - 1) / p.maxPayloadSize
	packets := make([][]byte, 0, numPackets)

	seqNum := atomic.LoadUint32(&p.sequenceNumber)
	fragmentOffset := uint32(0)

	for offset := 0; offset < len(jpegData); offset += p.maxPayloadSize {
		payloadSize := p.maxPayloadSize
		if offset+payloadSize > len(jpegData) {
			payloadSize = len(jpegData) - offset
		}
		isLast := (offset + payloadSize) >= len(jpegData)

		header := p.buildRTPJPEGHeader(seqNum, timestamp, fragmentOffset, width, height, isLast)

		packet := make([]byte, len(header)+payloadSize)
		copy(packet, header)
		copy(packet[len(header):], jpegData[offset:offset+payloadSize])
		packets = append(packets, packet)

		seqNum = (seqNum + 1) & 0xFFFF
		fragmentOffset += uint32(payloadSize)
	}

	atomic.StoreUint32(&p.sequenceNumber, seqNum)
	atomic.AddUint64(&p.packetsSent, uint64(len(packets)))
	atomic.AddUint64(&p.bytesSent, uint64(len(jpegData)))
	atomic.AddUint64(&p.framesSent, 1)

	return packets, nil
}

func (p *rtpPacketizer) buildRTPJPEGHeader(seqNum, timestamp, fragmentOffset uint32, width, height int, marker bool) []byte {
	header := make([]byte, rtpHeaderSize+jpegHeaderSize)

	header[0] = rtpVersion << 6
	if marker {
		header[1] = 0x80 | p.payloadType
	} else {
		header[1] = p.payloadType
	}
	binary.BigEndian.PutUint16(header[2:4], uint16(seqNum))
	binary.BigEndian.PutUint32(header[4:8], timestamp)
	binary.BigEndian.PutUint32(header[8:12], p.ssrc)

	header[12] = 0 // type-specific
	header[13] = uint8((fragmentOffset >> 16) & 0xFF)
	header[14] = uint8((fragmentOffset >> 8) & 0xFF)
	header[15] = uint8(fragmentOffset & 0xFF)
	header[16] = 1 // type: 4:2:0 subsampling, matches distributor's encode path
	header[17] = 128
	header[18] = uint8(width / 8)
	header[19] = uint8(height / 8)

	return header
}

type packetizerStats struct {
	PacketsSent uint64
	BytesSent   uint64
	FramesSent  uint64
}

func (p *rtpPacketizer) stats() packetizerStats {
	return packetizerStats{
		PacketsSent: atomic.LoadUint64(&p.packetsSent),
		BytesSent:   atomic.LoadUint64(&p.bytesSent),
		FramesSent:  atomic.LoadUint64(&p.framesSent),
	}
}

// timestampGenerator produces RTP timestamps from a frame counter at a
// fixed clock rate, unchanged from the teacher's TimestampGenerator.
type timestampGenerator struct {
	mu        sync.Mutex
	startTime time.Time
	clockRate uint32
	fps       int
}

func newTimestampGenerator(fps int) *timestampGenerator {
	return &timestampGenerator{startTime: time.Now(), clockRate: rtpClockRate, fps: fps}
}

func (tg *timestampGenerator) nextFrameBased(frameCount uint64) uint32 {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	if tg.fps <= 0 {
		tg.fps = 1
	}
	increment := tg.clockRate / uint32(tg.fps)
	return uint32(frameCount) * increment
}
