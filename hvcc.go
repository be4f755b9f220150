package webcodecs

import (
	"encoding/binary"
	"fmt"
)

// hvccHeaderLen is the fixed header of an HEVCDecoderConfigurationRecord:
// configurationVersion, 20 profile/tier/level and capability bytes, and
// the byte holding lengthSizeMinusOne. numOfArrays follows.
const hvccHeaderLen = 22

// HEVCDecoderConfig is a parsed HEVCDecoderConfigurationRecord
// (ISO/IEC 14496-15 §8.3.3.1.2).
//
// The profile/tier/level and capability bytes between the version and the
// length-size byte are opaque to this package and round-tripped verbatim
// in ProfileTierLevel. Parameter sets are stored without start codes,
// grouped by class.
type HEVCDecoderConfig struct {
	ConfigurationVersion byte

	// ProfileTierLevel holds record bytes 1-20 verbatim:
	// general_profile_space through avgFrameRate.
	ProfileTierLevel [20]byte

	// Flags holds the constantFrameRate/numTemporalLayers/temporalIdNested
	// bits of record byte 21. The low two bits (lengthSizeMinusOne) are
	// carried in LengthSize instead.
	Flags byte

	// LengthSize is the number of bytes in each NAL length prefix inside a
	// sample: 1, 2, or 4.
	LengthSize int

	VPS [][]byte
	SPS [][]byte
	PPS [][]byte
}

// ParseHEVCDecoderConfig parses an HEVCDecoderConfigurationRecord. A
// declared array count or NAL length that reads past the buffer end, or a
// structurally invalid version or length-size field, fails with
// ErrMalformedRecord.
func ParseHEVCDecoderConfig(b []byte) (*HEVCDecoderConfig, error) {
	if len(b) < hvccHeaderLen+1 {
		return nil, fmt.Errorf("%w: HVCC record of %d bytes", ErrMalformedRecord, len(b))
	}
	if b[0] != 1 {
		return nil, fmt.Errorf("%w: HVCC configurationVersion %d", ErrMalformedRecord, b[0])
	}

	c := &HEVCDecoderConfig{
		ConfigurationVersion: b[0],
		Flags:                b[21] & 0xFC,
		LengthSize:           int(b[21]&0x03) + 1,
	}
	copy(c.ProfileTierLevel[:], b[1:21])
	if c.LengthSize == 3 {
		return nil, fmt.Errorf("%w: HVCC lengthSizeMinusOne 2", ErrMalformedRecord)
	}

	numArrays := int(b[22])
	pos := 23
	for i := 0; i < numArrays; i++ {
		if pos+3 > len(b) {
			return nil, fmt.Errorf("%w: truncated HVCC array header", ErrMalformedRecord)
		}
		nalType := b[pos] & 0x3F
		numNALUs := int(binary.BigEndian.Uint16(b[pos+1:]))
		pos += 3

		for j := 0; j < numNALUs; j++ {
			if pos+2 > len(b) {
				return nil, fmt.Errorf("%w: truncated HVCC NAL length", ErrMalformedRecord)
			}
			n := int(binary.BigEndian.Uint16(b[pos:]))
			pos += 2
			if pos+n > len(b) {
				return nil, fmt.Errorf("%w: HVCC NAL length %d reads past buffer end", ErrMalformedRecord, n)
			}
			nalu := make([]byte, n)
			copy(nalu, b[pos:pos+n])
			pos += n

			switch nalType {
			case h265NALVPS:
				c.VPS = append(c.VPS, nalu)
			case h265NALSPS:
				c.SPS = append(c.SPS, nalu)
			case h265NALPPS:
				c.PPS = append(c.PPS, nalu)
			}
		}
	}
	return c, nil
}

// NewHEVCDecoderConfig builds a config from raw VPS, SPS, and PPS NAL data
// (without start codes). The profile/tier/level bytes are copied from the
// first SPS; capability bytes take the common reserved defaults. The
// length prefix size is 4. Returns nil if the parameter sets are
// insufficient to describe a stream.
func NewHEVCDecoderConfig(vps, sps, pps [][]byte) *HEVCDecoderConfig {
	if len(vps) == 0 || len(sps) == 0 || len(pps) == 0 || len(sps[0]) < 15 {
		return nil
	}

	c := &HEVCDecoderConfig{
		ConfigurationVersion: 1,
		// numTemporalLayers=1, temporalIdNested=1
		Flags:      0x0C,
		LengthSize: 4,
		VPS:        vps,
		SPS:        sps,
		PPS:        pps,
	}

	// The SPS profile_tier_level starts after the 2-byte NAL header and
	// the byte carrying sps_video_parameter_set_id/max_sub_layers/nesting;
	// its first 12 bytes are exactly record bytes 1-12.
	copy(c.ProfileTierLevel[0:12], sps[0][3:15])

	// min_spatial_segmentation_idc, parallelismType, chromaFormat, bit
	// depths, avgFrameRate: reserved bits set, values zero.
	c.ProfileTierLevel[12] = 0xF0
	c.ProfileTierLevel[13] = 0x00
	c.ProfileTierLevel[14] = 0xFC
	c.ProfileTierLevel[15] = 0xFC
	c.ProfileTierLevel[16] = 0xF8
	c.ProfileTierLevel[17] = 0xF8
	c.ProfileTierLevel[18] = 0x00
	c.ProfileTierLevel[19] = 0x00

	return c
}

// Marshal serializes the record. Output is deterministic; parameter-set
// arrays are emitted in VPS, SPS, PPS order with the array_completeness
// bit set, skipping empty classes.
func (c *HEVCDecoderConfig) Marshal() []byte {
	arrays := []struct {
		nalType byte
		sets    [][]byte
	}{
		{h265NALVPS, c.VPS},
		{h265NALSPS, c.SPS},
		{h265NALPPS, c.PPS},
	}

	size := hvccHeaderLen + 1
	numArrays := 0
	for _, a := range arrays {
		if len(a.sets) == 0 {
			continue
		}
		numArrays++
		size += 3
		for _, s := range a.sets {
			size += 2 + len(s)
		}
	}

	out := make([]byte, 0, size)
	out = append(out, 1)
	out = append(out, c.ProfileTierLevel[:]...)
	out = append(out, c.Flags|byte(c.lengthSize()-1))
	out = append(out, byte(numArrays))
	for _, a := range arrays {
		if len(a.sets) == 0 {
			continue
		}
		out = append(out, 0x80|a.nalType)
		out = binary.BigEndian.AppendUint16(out, uint16(len(a.sets)))
		for _, s := range a.sets {
			out = binary.BigEndian.AppendUint16(out, uint16(len(s)))
			out = append(out, s...)
		}
	}
	return out
}

func (c *HEVCDecoderConfig) lengthSize() int {
	switch c.LengthSize {
	case 1, 2, 4:
		return c.LengthSize
	default:
		return 4
	}
}

// ToAnnexB converts a length-prefixed sample to an Annex-B byte stream
// using this record's length prefix size. When prependParameterSets is
// true, the record's parameter sets are emitted in class order (VPS, SPS,
// PPS) before the sample's own NAL units.
func (c *HEVCDecoderConfig) ToAnnexB(sample []byte, prependParameterSets bool) ([]byte, error) {
	body, err := LengthPrefixedToAnnexB(sample, c.lengthSize())
	if err != nil {
		return nil, err
	}
	if !prependParameterSets {
		return body, nil
	}

	var out []byte
	for _, class := range [][][]byte{c.VPS, c.SPS, c.PPS} {
		for _, s := range class {
			out = append(out, annexBStartCode...)
			out = append(out, s...)
		}
	}
	return append(out, body...), nil
}

// ExtractHEVCParameterSets scans an Annex-B byte stream and buckets
// parameter-set NAL units by class. Slice, SEI, and AUD NALs are ignored.
func ExtractHEVCParameterSets(annexB []byte) (vps, sps, pps [][]byte) {
	for _, nalu := range SplitAnnexB(annexB) {
		if len(nalu) < 2 {
			continue
		}
		switch h265NALType(nalu[0]) {
		case h265NALVPS:
			vps = append(vps, nalu)
		case h265NALSPS:
			sps = append(sps, nalu)
		case h265NALPPS:
			pps = append(pps, nalu)
		}
	}
	return vps, sps, pps
}

// H265KeyframeAnnexB reports whether an Annex-B access unit contains an
// IRAP slice (BLA, IDR, or CRA).
func H265KeyframeAnnexB(annexB []byte) bool {
	for _, nalu := range SplitAnnexB(annexB) {
		if len(nalu) >= 2 && h265IsIRAP(h265NALType(nalu[0])) {
			return true
		}
	}
	return false
}
