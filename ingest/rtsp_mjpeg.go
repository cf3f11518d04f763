package ingest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/pion/rtp"
)

// mjpegReassembler rebuilds complete JFIF images from RFC 2435 (RTP
// payload format 26) fragments. Most of the RTP/JPEG payload is raw
// entropy-coded scan data with no framing of its own; the quantization and
// Huffman tables are supplied separately (either inline, for custom
// tables, or via the well-known RFC 2435 Appendix A/B defaults) and must
// be spliced back in before a stdlib image/jpeg.Decode will accept the
// bytes.
type mjpegReassembler struct {
	started  bool
	typ      uint8
	q        uint8
	width    int
	height   int
	qTables  []byte
	qPrec    uint8
	scan     []byte
}

func newMJPEGReassembler() *mjpegReassembler {
	return &mjpegReassembler{}
}

// push feeds one RTP/JPEG packet into the reassembler. It returns a decoded
// RawFrame once a packet with the marker bit completes a frame, or (nil,
// nil) while a frame is still in progress.
func (r *mjpegReassembler) push(pkt *rtp.Packet) (*RawFrame, error) {
	payload := pkt.Payload
	if len(payload) < 8 {
		return nil, fmt.Errorf("short rtp/jpeg header")
	}

	fragOffset := uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
	typ := payload[4]
	q := payload[5]
	width := int(payload[6]) * 8
	height := int(payload[7]) * 8
	off := 8

	if typ >= 64 && typ <= 127 {
		// restart-marker header: 4 bytes (interval, F/L flags, count) that
		// this engine does not track per-scan restart intervals for.
		if len(payload) < off+4 {
			return nil, fmt.Errorf("short restart-marker header")
		}
		off += 4
	}

	if fragOffset == 0 {
		r.scan = r.scan[:0]
		r.typ = typ
		r.q = q
		r.width = width
		r.height = height
		r.qTables = nil

		if q >= 128 {
			if len(payload) < off+4 {
				return nil, fmt.Errorf("short quantization header")
			}
			precision := payload[off+1]
			length := int(payload[off+2])<<8 | int(payload[off+3])
			off += 4
			if len(payload) < off+length {
				return nil, fmt.Errorf("short quantization table data")
			}
			r.qTables = append([]byte(nil), payload[off:off+length]...)
			r.qPrec = precision
			off += length
		}
		r.started = true
	} else if !r.started {
		return nil, fmt.Errorf("fragment received before start-of-frame packet")
	}

	if off > len(payload) {
		return nil, fmt.Errorf("jpeg payload shorter than declared header")
	}
	r.scan = append(r.scan, payload[off:]...)

	if !pkt.Marker {
		return nil, nil
	}
	r.started = false

	jfif, err := buildJFIF(r.typ, r.q, r.width, r.height, r.qTables, r.qPrec, r.scan)
	if err != nil {
		return nil, fmt.Errorf("build jfif: %w", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(jfif))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}

	return imageToRawFrame(img), nil
}

// buildJFIF synthesizes a standalone JPEG (SOI, DQT, DHT, SOF0, SOS, scan
// data, EOI) from an RFC 2435 fragment stream, per RFC 2435 §3.1 and
// Appendix A/B.
func buildJFIF(typ, q uint8, width, height int, customTables []byte, qPrec uint8, scan []byte) ([]byte, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("zero-sized frame (w=%d h=%d)", width, height)
	}

	lumaQ, chromaQ := quantTablesFor(q, customTables, qPrec)

	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xD8}) // SOI

	writeDQT(&buf, 0, lumaQ)
	writeDQT(&buf, 1, chromaQ)

	writeDHT(&buf, 0x00, bitsDCLuminance, valDCLuminance)
	writeDHT(&buf, 0x10, bitsACLuminance, valACLuminance)
	writeDHT(&buf, 0x01, bitsDCChrominance, valDCChrominance)
	writeDHT(&buf, 0x11, bitsACChrominance, valACChrominance)

	// Type 0/2 use 4:2:2 (2x1 luma sampling), type 1/3 use 4:2:0 (2x2).
	vSamp := byte(1)
	if typ&1 == 1 {
		vSamp = 2
	}
	writeSOF0(&buf, width, height, vSamp)
	writeSOS(&buf)

	buf.Write(scan)
	buf.Write([]byte{0xFF, 0xD9}) // EOI

	return buf.Bytes(), nil
}

func writeDQT(buf *bytes.Buffer, tableID byte, table []byte) {
	buf.Write([]byte{0xFF, 0xDB})
	binary.Write(buf, binary.BigEndian, uint16(2+1+len(table)))
	buf.WriteByte(tableID)
	buf.Write(table)
}

func writeDHT(buf *bytes.Buffer, classAndID byte, bits [16]byte, values []byte) {
	buf.Write([]byte{0xFF, 0xC4})
	binary.Write(buf, binary.BigEndian, uint16(2+1+16+len(values)))
	buf.WriteByte(classAndID)
	buf.Write(bits[:])
	buf.Write(values)
}

func writeSOF0(buf *bytes.Buffer, width, height int, vSamp byte) {
	buf.Write([]byte{0xFF, 0xC0})
	binary.Write(buf, binary.BigEndian, uint16(17)) // length
	buf.WriteByte(8)                                 // precision
	binary.Write(buf, binary.BigEndian, uint16(height))
	binary.Write(buf, binary.BigEndian, uint16(width))
	buf.WriteByte(3) // components

	buf.Write([]byte{0x01, 0x20 | vSamp, 0x00}) // Y: sampling 2h x {1,2}v, quant table 0
	buf.Write([]byte{0x02, 0x11, 0x01})         // Cb: 1x1, quant table 1
	buf.Write([]byte{0x03, 0x11, 0x01})         // Cr: 1x1, quant table 1
}

func writeSOS(buf *bytes.Buffer) {
	buf.Write([]byte{0xFF, 0xDA})
	binary.Write(buf, binary.BigEndian, uint16(12))
	buf.WriteByte(3)
	buf.Write([]byte{0x01, 0x00}) // Y uses DC table 0, AC table 0
	buf.Write([]byte{0x02, 0x11}) // Cb uses DC table 1, AC table 1
	buf.Write([]byte{0x03, 0x11}) // Cr uses DC table 1, AC table 1
	buf.Write([]byte{0x00, 0x3F, 0x00})
}

// imageToRawFrame converts a decoded image into a flat BGR24 buffer, the
// wire format every ingest.Frame carries regardless of source protocol.
func imageToRawFrame(img image.Image) *RawFrame {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]byte, w*h*3)

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			out[i] = byte(b >> 8)
			out[i+1] = byte(g >> 8)
			out[i+2] = byte(r >> 8)
			i += 3
		}
	}

	return &RawFrame{Image: out, Width: w, Height: h, Channels: 3}
}
