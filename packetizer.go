package webcodecs

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pion/rtp"
)

const (
	h264NALSTAPA = 24
	h264NALFUA   = 28 // Fragmentation Unit A
)

// H264Packetizer converts encoded H.264 chunks into RTP packets: single
// NAL unit packets when they fit the MTU, FU-A fragmentation otherwise.
// Input chunks must carry Annex-B payloads.
type H264Packetizer struct {
	ssrc        uint32
	payloadType uint8
	mtu         int
	sequencer   rtp.Sequencer
	mu          sync.Mutex
}

// NewH264Packetizer creates a packetizer. MTU defaults to 1200.
func NewH264Packetizer(ssrc uint32, payloadType uint8, mtu int) *H264Packetizer {
	if mtu <= 0 {
		mtu = 1200
	}
	return &H264Packetizer{
		ssrc:        ssrc,
		payloadType: payloadType,
		mtu:         mtu,
		sequencer:   rtp.NewRandomSequencer(),
	}
}

// Packetize converts one chunk into RTP packets. The chunk timestamp in
// microseconds is rescaled to the 90 kHz RTP clock; the marker bit is set
// on the final packet of the chunk.
func (p *H264Packetizer) Packetize(chunk *EncodedChunk) ([]*rtp.Packet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data := chunk.Bytes()
	if len(data) == 0 {
		return nil, nil
	}

	nalUnits := SplitAnnexB(data)
	if len(nalUnits) == 0 {
		return nil, fmt.Errorf("%w: no NAL units in chunk", ErrMalformedRecord)
	}

	ts90 := uint32(chunk.Timestamp * 90 / 1000)

	var packets []*rtp.Packet
	for i, nalu := range nalUnits {
		if len(nalu) == 0 {
			continue
		}
		isLast := i == len(nalUnits)-1

		if len(nalu) <= p.mtu-12 { // RTP header is 12 bytes
			packets = append(packets, &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					Marker:         isLast,
					PayloadType:    p.payloadType,
					SequenceNumber: p.sequencer.NextSequenceNumber(),
					Timestamp:      ts90,
					SSRC:           p.ssrc,
				},
				Payload: nalu,
			})
			continue
		}
		packets = append(packets, p.fragmentNALUnit(nalu, ts90, isLast)...)
	}
	return packets, nil
}

// fragmentNALUnit fragments a large NAL unit into FU-A packets.
func (p *H264Packetizer) fragmentNALUnit(nalu []byte, timestamp uint32, isLastNALU bool) []*rtp.Packet {
	nalHeader := nalu[0]
	nalType := nalHeader & 0x1F
	nri := nalHeader & 0x60

	payload := nalu[1:] // NAL header is carried in the FU header instead
	maxPayload := p.mtu - 12 - 2

	var packets []*rtp.Packet
	offset := 0
	for offset < len(payload) {
		end := offset + maxPayload
		if end > len(payload) {
			end = len(payload)
		}
		isStart := offset == 0
		isEnd := end == len(payload)

		fuHeader := nalType
		if isStart {
			fuHeader |= 0x80
		}
		if isEnd {
			fuHeader |= 0x40
		}

		pktPayload := make([]byte, 2+end-offset)
		pktPayload[0] = nri | h264NALFUA
		pktPayload[1] = fuHeader
		copy(pktPayload[2:], payload[offset:end])

		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         isEnd && isLastNALU,
				PayloadType:    p.payloadType,
				SequenceNumber: p.sequencer.NextSequenceNumber(),
				Timestamp:      timestamp,
				SSRC:           p.ssrc,
			},
			Payload: pktPayload,
		})
		offset = end
	}
	return packets
}

// H264Depacketizer reassembles Annex-B frames from H.264 RTP packets:
// single NAL units, STAP-A aggregates, and FU-A fragments.
type H264Depacketizer struct {
	mu          sync.Mutex
	frameData   []byte
	fuaBuffer   []byte
	fragmenting bool
	timestamp   uint32
	keyframe    bool
}

// NewH264Depacketizer creates an empty depacketizer.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

// Depacketize consumes one RTP packet and, when the marker bit closes a
// frame, returns it as an EncodedChunk with an Annex-B payload and the
// RTP timestamp rescaled to microseconds.
func (d *H264Depacketizer) Depacketize(pkt *rtp.Packet) (*EncodedChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(pkt.Payload) == 0 {
		return nil, nil
	}

	// A timestamp change means a new frame started without a marker.
	if d.timestamp != 0 && d.timestamp != pkt.Header.Timestamp {
		d.resetLocked()
	}
	d.timestamp = pkt.Header.Timestamp

	nalType := h264NALType(pkt.Payload[0])
	switch {
	case nalType >= 1 && nalType <= 23:
		d.appendNAL(pkt.Payload)

	case nalType == h264NALSTAPA:
		d.depacketizeSTAPA(pkt.Payload)

	case nalType == h264NALFUA:
		if err := d.depacketizeFUA(pkt.Payload); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: NAL type %d", ErrNotSupported, nalType)
	}

	if pkt.Header.Marker && len(d.frameData) > 0 {
		typ := ChunkTypeDelta
		if d.keyframe {
			typ = ChunkTypeKey
		}
		chunk := NewEncodedChunk(typ, int64(d.timestamp)*1000/90, 0, d.frameData)
		d.resetLocked()
		return chunk, nil
	}
	return nil, nil
}

func (d *H264Depacketizer) appendNAL(nalu []byte) {
	if h264NALType(nalu[0]) == h264NALIDR {
		d.keyframe = true
	}
	d.frameData = append(d.frameData, 0, 0, 0, 1)
	d.frameData = append(d.frameData, nalu...)
}

func (d *H264Depacketizer) depacketizeSTAPA(payload []byte) {
	offset := 1
	for offset+2 <= len(payload) {
		naluSize := int(binary.BigEndian.Uint16(payload[offset:]))
		offset += 2
		if offset+naluSize > len(payload) {
			return
		}
		if naluSize > 0 {
			d.appendNAL(payload[offset : offset+naluSize])
		}
		offset += naluSize
	}
}

func (d *H264Depacketizer) depacketizeFUA(payload []byte) error {
	if len(payload) < 2 {
		return fmt.Errorf("%w: FU-A packet too short", ErrMalformedRecord)
	}
	fuIndicator := payload[0]
	fuHeader := payload[1]
	isStart := fuHeader&0x80 != 0
	isEnd := fuHeader&0x40 != 0
	nalType := fuHeader & 0x1F

	if isStart {
		if nalType == h264NALIDR {
			d.keyframe = true
		}
		d.fuaBuffer = d.fuaBuffer[:0]
		d.fuaBuffer = append(d.fuaBuffer, (fuIndicator&0xE0)|nalType)
		d.fragmenting = true
	}
	if !d.fragmenting {
		return nil
	}
	d.fuaBuffer = append(d.fuaBuffer, payload[2:]...)

	if isEnd {
		d.frameData = append(d.frameData, 0, 0, 0, 1)
		d.frameData = append(d.frameData, d.fuaBuffer...)
		d.fuaBuffer = d.fuaBuffer[:0]
		d.fragmenting = false
	}
	return nil
}

func (d *H264Depacketizer) resetLocked() {
	d.frameData = nil
	d.fuaBuffer = d.fuaBuffer[:0]
	d.fragmenting = false
	d.keyframe = false
}

// Reset clears any buffered partial frame.
func (d *H264Depacketizer) Reset() {
	d.mu.Lock()
	d.resetLocked()
	d.timestamp = 0
	d.mu.Unlock()
}
