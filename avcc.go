package webcodecs

import (
	"encoding/binary"
	"fmt"
)

// AVCDecoderConfig is a parsed AVCDecoderConfigurationRecord
// (ISO/IEC 14496-15 §5.2.4.1.1), the H.264 decoder description carried in
// MP4-style containers and in WebCodecs VideoDecoderConfig.description.
//
// Profile and level bytes are round-tripped verbatim; the parameter sets
// are stored without start codes, in record order.
type AVCDecoderConfig struct {
	ConfigurationVersion byte
	ProfileIndication    byte
	ProfileCompatibility byte
	LevelIndication      byte

	// LengthSize is the number of bytes in each NAL length prefix inside a
	// sample: 1, 2, or 4.
	LengthSize int

	SPS [][]byte
	PPS [][]byte
}

// ParseAVCDecoderConfig parses an AVCDecoderConfigurationRecord. A
// declared parameter-set count or length that reads past the buffer end,
// or a structurally invalid version or length-size field, fails with
// ErrMalformedRecord.
func ParseAVCDecoderConfig(b []byte) (*AVCDecoderConfig, error) {
	if len(b) < 6 {
		return nil, fmt.Errorf("%w: AVCC record of %d bytes", ErrMalformedRecord, len(b))
	}
	if b[0] != 1 {
		return nil, fmt.Errorf("%w: AVCC configurationVersion %d", ErrMalformedRecord, b[0])
	}

	c := &AVCDecoderConfig{
		ConfigurationVersion: b[0],
		ProfileIndication:    b[1],
		ProfileCompatibility: b[2],
		LevelIndication:      b[3],
		LengthSize:           int(b[4]&0x03) + 1,
	}
	if c.LengthSize == 3 {
		return nil, fmt.Errorf("%w: AVCC lengthSizeMinusOne 2", ErrMalformedRecord)
	}

	pos := 5
	numSPS := int(b[pos] & 0x1F)
	pos++
	sps, pos, err := readParameterSets(b, pos, numSPS)
	if err != nil {
		return nil, fmt.Errorf("AVCC SPS: %w", err)
	}
	c.SPS = sps

	if pos >= len(b) {
		return nil, fmt.Errorf("%w: AVCC record ends before PPS count", ErrMalformedRecord)
	}
	numPPS := int(b[pos])
	pos++
	pps, _, err := readParameterSets(b, pos, numPPS)
	if err != nil {
		return nil, fmt.Errorf("AVCC PPS: %w", err)
	}
	c.PPS = pps

	return c, nil
}

// readParameterSets reads count [16-bit length, blob] pairs starting at pos.
func readParameterSets(b []byte, pos, count int) ([][]byte, int, error) {
	var sets [][]byte
	for i := 0; i < count; i++ {
		if pos+2 > len(b) {
			return nil, pos, fmt.Errorf("%w: truncated parameter-set length", ErrMalformedRecord)
		}
		n := int(binary.BigEndian.Uint16(b[pos:]))
		pos += 2
		if pos+n > len(b) {
			return nil, pos, fmt.Errorf("%w: parameter-set length %d reads past buffer end", ErrMalformedRecord, n)
		}
		set := make([]byte, n)
		copy(set, b[pos:pos+n])
		sets = append(sets, set)
		pos += n
	}
	return sets, pos, nil
}

// NewAVCDecoderConfig builds a config from raw SPS and PPS NAL data
// (without start codes). Profile and level bytes are taken from the first
// SPS; the length prefix size is 4. Returns nil if the parameter sets are
// insufficient to describe a stream.
func NewAVCDecoderConfig(sps, pps [][]byte) *AVCDecoderConfig {
	if len(sps) == 0 || len(pps) == 0 || len(sps[0]) < 4 {
		return nil
	}
	return &AVCDecoderConfig{
		ConfigurationVersion: 1,
		ProfileIndication:    sps[0][1],
		ProfileCompatibility: sps[0][2],
		LevelIndication:      sps[0][3],
		LengthSize:           4,
		SPS:                  sps,
		PPS:                  pps,
	}
}

// Marshal serializes the record. The output is deterministic: the same
// config always yields the same bytes. Reserved bits are emitted set, as
// ISO/IEC 14496-15 requires.
func (c *AVCDecoderConfig) Marshal() []byte {
	size := 6 + 1
	for _, s := range c.SPS {
		size += 2 + len(s)
	}
	for _, p := range c.PPS {
		size += 2 + len(p)
	}

	out := make([]byte, 0, size)
	out = append(out, 1)
	out = append(out, c.ProfileIndication, c.ProfileCompatibility, c.LevelIndication)
	out = append(out, 0xFC|byte(c.lengthSize()-1))
	out = append(out, 0xE0|byte(len(c.SPS)&0x1F))
	for _, s := range c.SPS {
		out = binary.BigEndian.AppendUint16(out, uint16(len(s)))
		out = append(out, s...)
	}
	out = append(out, byte(len(c.PPS)))
	for _, p := range c.PPS {
		out = binary.BigEndian.AppendUint16(out, uint16(len(p)))
		out = append(out, p...)
	}
	return out
}

func (c *AVCDecoderConfig) lengthSize() int {
	switch c.LengthSize {
	case 1, 2, 4:
		return c.LengthSize
	default:
		return 4
	}
}

// ToAnnexB converts a length-prefixed sample to an Annex-B byte stream
// using this record's length prefix size. When prependParameterSets is
// true, the record's SPS and PPS NAL units are emitted (in that order)
// before the sample's own NAL units; this must happen on the first sample
// of a stream so decoders that require in-band parameter sets can
// initialize.
func (c *AVCDecoderConfig) ToAnnexB(sample []byte, prependParameterSets bool) ([]byte, error) {
	body, err := LengthPrefixedToAnnexB(sample, c.lengthSize())
	if err != nil {
		return nil, err
	}
	if !prependParameterSets {
		return body, nil
	}

	var out []byte
	for _, s := range c.SPS {
		out = append(out, annexBStartCode...)
		out = append(out, s...)
	}
	for _, p := range c.PPS {
		out = append(out, annexBStartCode...)
		out = append(out, p...)
	}
	return append(out, body...), nil
}

// ExtractH264ParameterSets scans an Annex-B byte stream and buckets
// parameter-set NAL units by class. Slice, SEI, and AUD NALs are ignored.
func ExtractH264ParameterSets(annexB []byte) (sps, pps [][]byte) {
	for _, nalu := range SplitAnnexB(annexB) {
		if len(nalu) == 0 {
			continue
		}
		switch h264NALType(nalu[0]) {
		case h264NALSPS:
			sps = append(sps, nalu)
		case h264NALPPS:
			pps = append(pps, nalu)
		}
	}
	return sps, pps
}

// H264KeyframeAnnexB reports whether an Annex-B access unit contains an
// IDR slice.
func H264KeyframeAnnexB(annexB []byte) bool {
	for _, nalu := range SplitAnnexB(annexB) {
		if len(nalu) > 0 && h264NALType(nalu[0]) == h264NALIDR {
			return true
		}
	}
	return false
}
