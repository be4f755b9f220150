package webcodecs

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	ivfSignature      = "DKIF"
	ivfFileHeaderLen  = 32
	ivfFrameHeaderLen = 12
)

// IVFHeader is the 32-byte IVF file header.
type IVFHeader struct {
	FourCC      string // "VP80", "VP90", or "AV01"
	Width       uint16
	Height      uint16
	TimebaseDen uint32
	TimebaseNum uint32
	FrameCount  uint32
}

// Codec maps the header FourCC to a VideoCodec.
func (h IVFHeader) Codec() VideoCodec {
	switch h.FourCC {
	case "VP80":
		return VideoCodecVP8
	case "VP90":
		return VideoCodecVP9
	case "AV01":
		return VideoCodecAV1
	default:
		return VideoCodecUnknown
	}
}

// IVFFrame is one frame consumed from an IVF stream: the payload, the
// 64-bit timestamp from the frame header, a codec-specific keyframe
// classification, and a monotonically assigned sequence index.
type IVFFrame struct {
	Data      []byte
	Timestamp uint64
	Keyframe  bool
	Index     uint64
}

// IVFReader incrementally parses an IVF byte stream: a 32-byte file
// header followed by frames of a 12-byte header (32-bit little-endian
// size, 64-bit little-endian timestamp) and that many payload bytes.
//
// The reader is resumable across partial buffers: if fewer bytes than a
// complete header or frame are available, parsing stops and the
// unconsumed remainder is retained for the next Push. No data is ever
// discarded mid-frame, so feeding a stream in chunks of any size yields
// identical frame sequences.
type IVFReader struct {
	header *IVFHeader
	codec  VideoCodec
	buf    []byte
	next   uint64
}

// NewIVFReader creates an empty reader. The codec is learned from the
// file header FourCC.
func NewIVFReader() *IVFReader {
	return &IVFReader{}
}

// Header returns the parsed file header, or nil if fewer than 32 bytes
// have been pushed.
func (r *IVFReader) Header() *IVFHeader {
	return r.header
}

// Push appends data and returns all frames completed by it. A malformed
// file header fails with ErrMalformedRecord; the reader is then unusable.
func (r *IVFReader) Push(data []byte) ([]IVFFrame, error) {
	r.buf = append(r.buf, data...)

	if r.header == nil {
		if len(r.buf) < ivfFileHeaderLen {
			return nil, nil
		}
		hdr, err := parseIVFHeader(r.buf[:ivfFileHeaderLen])
		if err != nil {
			return nil, err
		}
		r.header = hdr
		r.codec = hdr.Codec()
		r.buf = r.buf[ivfFileHeaderLen:]
	}

	var frames []IVFFrame
	for {
		if len(r.buf) < ivfFrameHeaderLen {
			break
		}
		size := int(binary.LittleEndian.Uint32(r.buf))
		ts := binary.LittleEndian.Uint64(r.buf[4:])
		if len(r.buf) < ivfFrameHeaderLen+size {
			break
		}
		payload := make([]byte, size)
		copy(payload, r.buf[ivfFrameHeaderLen:ivfFrameHeaderLen+size])
		r.buf = r.buf[ivfFrameHeaderLen+size:]

		frames = append(frames, IVFFrame{
			Data:      payload,
			Timestamp: ts,
			Keyframe:  IVFKeyframe(r.codec, payload),
			Index:     r.next,
		})
		r.next++
	}
	return frames, nil
}

func parseIVFHeader(b []byte) (*IVFHeader, error) {
	if string(b[0:4]) != ivfSignature {
		return nil, fmt.Errorf("%w: IVF signature %q", ErrMalformedRecord, b[0:4])
	}
	headerSize := binary.LittleEndian.Uint16(b[6:])
	if headerSize != ivfFileHeaderLen {
		return nil, fmt.Errorf("%w: IVF header size %d", ErrMalformedRecord, headerSize)
	}
	return &IVFHeader{
		FourCC:      string(b[8:12]),
		Width:       binary.LittleEndian.Uint16(b[12:]),
		Height:      binary.LittleEndian.Uint16(b[14:]),
		TimebaseDen: binary.LittleEndian.Uint32(b[16:]),
		TimebaseNum: binary.LittleEndian.Uint32(b[20:]),
		FrameCount:  binary.LittleEndian.Uint32(b[24:]),
	}, nil
}

// IVFWriter emits IVF framing to an io.Writer.
type IVFWriter struct {
	w          io.Writer
	wroteHdr   bool
	frameCount uint32
}

// NewIVFWriter creates a writer. WriteHeader must be called before the
// first frame.
func NewIVFWriter(w io.Writer) *IVFWriter {
	return &IVFWriter{w: w}
}

// WriteHeader emits the 32-byte file header.
func (w *IVFWriter) WriteHeader(hdr IVFHeader) error {
	if len(hdr.FourCC) != 4 {
		return fmt.Errorf("%w: IVF FourCC %q", ErrMalformedRecord, hdr.FourCC)
	}
	buf := make([]byte, ivfFileHeaderLen)
	copy(buf[0:4], ivfSignature)
	binary.LittleEndian.PutUint16(buf[4:], 0) // version
	binary.LittleEndian.PutUint16(buf[6:], ivfFileHeaderLen)
	copy(buf[8:12], hdr.FourCC)
	binary.LittleEndian.PutUint16(buf[12:], hdr.Width)
	binary.LittleEndian.PutUint16(buf[14:], hdr.Height)
	binary.LittleEndian.PutUint32(buf[16:], hdr.TimebaseDen)
	binary.LittleEndian.PutUint32(buf[20:], hdr.TimebaseNum)
	binary.LittleEndian.PutUint32(buf[24:], hdr.FrameCount)
	_, err := w.w.Write(buf)
	w.wroteHdr = err == nil
	return err
}

// WriteFrame emits a 12-byte frame header followed by the payload.
func (w *IVFWriter) WriteFrame(payload []byte, timestamp uint64) error {
	if !w.wroteHdr {
		return fmt.Errorf("%w: IVF frame before header", ErrInvalidState)
	}
	hdr := make([]byte, ivfFrameHeaderLen)
	binary.LittleEndian.PutUint32(hdr, uint32(len(payload)))
	binary.LittleEndian.PutUint64(hdr[4:], timestamp)
	if _, err := w.w.Write(hdr); err != nil {
		return err
	}
	_, err := w.w.Write(payload)
	if err == nil {
		w.frameCount++
	}
	return err
}

// IVFKeyframe classifies a frame payload as key or delta using the first
// one or two payload bytes.
//
// VP8 (RFC 6386 §9.1) and AV1 (OBU walk) classification is exact. The VP9
// path is a best-effort heuristic from the uncompressed header's
// frame_marker/show_existing_frame/frame_type bits and should not be
// treated as authoritative.
func IVFKeyframe(codec VideoCodec, frame []byte) bool {
	if len(frame) == 0 {
		return false
	}
	switch codec {
	case VideoCodecVP8:
		// Frame tag bit 0: 0 = keyframe.
		return frame[0]&0x01 == 0
	case VideoCodecVP9:
		return vp9Keyframe(frame)
	case VideoCodecAV1:
		return av1Keyframe(frame)
	default:
		return false
	}
}

// vp9Keyframe inspects the VP9 uncompressed header. Bit layout (MSB
// first): frame_marker(2)=0b10, profile_low_bit, profile_high_bit,
// [reserved if profile 3], show_existing_frame, frame_type (0 = key).
func vp9Keyframe(frame []byte) bool {
	b := frame[0]
	if (b>>6)&0x03 != 0x02 {
		return false
	}
	profile := (b>>4)&0x01<<1 | (b>>5)&0x01
	if profile < 3 {
		showExisting := (b >> 3) & 0x01
		frameType := (b >> 2) & 0x01
		return showExisting == 0 && frameType == 0
	}
	showExisting := (b >> 2) & 0x01
	frameType := (b >> 1) & 0x01
	return showExisting == 0 && frameType == 0
}

// AV1 OBU types (AV1 spec §5.3.2).
const (
	av1OBUSequenceHeader = 1
	av1OBUFrameHeader    = 3
	av1OBUFrame          = 6
)

// av1Keyframe walks the temporal unit's OBUs. A sequence header OBU marks
// a keyframe directly; otherwise the first frame or frame-header OBU is
// inspected: show_existing_frame must be 0 and frame_type (2 bits) must
// be KEY_FRAME (0).
func av1Keyframe(frame []byte) bool {
	pos := 0
	for pos < len(frame) {
		header := frame[pos]
		if header&0x80 != 0 { // forbidden bit
			return false
		}
		obuType := (header >> 3) & 0x0F
		hasExtension := header&0x04 != 0
		hasSize := header&0x02 != 0
		pos++
		if hasExtension {
			pos++
		}

		size := len(frame) - pos
		if hasSize {
			v, n := uleb128(frame[pos:])
			if n == 0 {
				return false
			}
			pos += n
			size = int(v)
		}
		if pos+size > len(frame) {
			return false
		}

		switch obuType {
		case av1OBUSequenceHeader:
			return true
		case av1OBUFrame, av1OBUFrameHeader:
			if size < 1 {
				return false
			}
			b := frame[pos]
			showExisting := (b >> 7) & 0x01
			frameType := (b >> 5) & 0x03
			return showExisting == 0 && frameType == 0
		}
		pos += size
	}
	return false
}

// uleb128 decodes an unsigned LEB128 value, returning the value and the
// number of bytes consumed (0 on truncation).
func uleb128(b []byte) (uint64, int) {
	var v uint64
	for i := 0; i < len(b) && i < 8; i++ {
		v |= uint64(b[i]&0x7F) << (7 * i)
		if b[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	return 0, 0
}
