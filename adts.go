package webcodecs

import (
	"fmt"
)

// ADTSHeaderLength is the fixed ADTS header size without CRC.
const ADTSHeaderLength = 7

// aacSampleRates maps samplingFrequencyIndex to Hz (ISO/IEC 14496-3
// Table 1.18).
var aacSampleRates = [13]int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

// AudioSpecificConfig is the 2-byte-minimum MPEG-4 AudioSpecificConfig
// (ISO/IEC 14496-3 §1.6.2.1) carried in WebCodecs
// AudioDecoderConfig.description and in MP4 esds boxes.
type AudioSpecificConfig struct {
	ObjectType     uint8 // 5 bits; 2 = AAC LC
	FrequencyIndex uint8 // 4 bits
	ChannelConfig  uint8 // 4 bits
}

// ParseAudioSpecificConfig reads the three fixed bit fields. Inputs
// shorter than two bytes fail with ErrMalformedRecord.
func ParseAudioSpecificConfig(b []byte) (AudioSpecificConfig, error) {
	if len(b) < 2 {
		return AudioSpecificConfig{}, fmt.Errorf("%w: AudioSpecificConfig of %d bytes", ErrMalformedRecord, len(b))
	}
	return AudioSpecificConfig{
		ObjectType:     b[0] >> 3,
		FrequencyIndex: (b[0]&0x07)<<1 | b[1]>>7,
		ChannelConfig:  (b[1] >> 3) & 0x0F,
	}, nil
}

// Marshal serializes the config into the canonical 2-byte form.
func (c AudioSpecificConfig) Marshal() []byte {
	return []byte{
		c.ObjectType<<3 | c.FrequencyIndex>>1,
		c.FrequencyIndex<<7 | c.ChannelConfig<<3,
	}
}

// FrequencyIndexFor returns the samplingFrequencyIndex for an exact Hz
// value, and whether one exists.
func FrequencyIndexFor(rate int) (uint8, bool) {
	for i, r := range aacSampleRates {
		if r == rate {
			return uint8(i), true
		}
	}
	return 0, false
}

// SampleRate returns the sampling frequency in Hz, or 0 for a reserved
// index.
func (c AudioSpecificConfig) SampleRate() int {
	if int(c.FrequencyIndex) >= len(aacSampleRates) {
		return 0
	}
	return aacSampleRates[c.FrequencyIndex]
}

// ADTSHeader builds the fixed 7-byte ADTS header (no CRC) for a raw AAC
// frame of payloadLen bytes. The aac_frame_length field covers header plus
// payload; adts_buffer_fullness is the variable-bitrate sentinel 0x7FF and
// number_of_raw_data_blocks is 0, meaning one AAC frame per ADTS unit.
//
// Layout (ISO/IEC 14496-3 §1.A.2.2): syncword(12)=0xFFF, ID(1)=0,
// layer(2)=0, protection_absent(1)=1, profile(2)=objectType-1,
// sampling_frequency_index(4), private(1), channel_configuration(3),
// original/copy(1), home(1), copyright bits(2), aac_frame_length(13),
// adts_buffer_fullness(11), number_of_raw_data_blocks(2).
func (c AudioSpecificConfig) ADTSHeader(payloadLen int) []byte {
	frameLen := payloadLen + ADTSHeaderLength
	profile := c.ObjectType - 1

	h := make([]byte, ADTSHeaderLength)
	h[0] = 0xFF
	h[1] = 0xF1 // remaining sync bits, MPEG-4, layer 0, no CRC
	h[2] = profile<<6 | c.FrequencyIndex<<2 | (c.ChannelConfig>>2)&0x01
	h[3] = (c.ChannelConfig&0x03)<<6 | byte(frameLen>>11)&0x03
	h[4] = byte(frameLen >> 3)
	h[5] = byte(frameLen&0x07)<<5 | 0x1F // buffer fullness high 5 bits (all ones)
	h[6] = 0xFC                     // buffer fullness low 6 bits, 0 raw data blocks
	return h
}

// WrapADTS prepends an ADTS header to a raw AAC frame.
func (c AudioSpecificConfig) WrapADTS(payload []byte) []byte {
	out := make([]byte, 0, ADTSHeaderLength+len(payload))
	out = append(out, c.ADTSHeader(len(payload))...)
	return append(out, payload...)
}

// StripADTS removes the ADTS header from a complete ADTS frame, returning
// the raw AAC payload. Wrapping then stripping reproduces the original
// payload bit-for-bit. Input that does not begin with an ADTS syncword
// fails with ErrMalformedRecord.
func StripADTS(frame []byte) ([]byte, error) {
	if len(frame) < ADTSHeaderLength {
		return nil, fmt.Errorf("%w: ADTS frame of %d bytes", ErrMalformedRecord, len(frame))
	}
	if frame[0] != 0xFF || frame[1]&0xF0 != 0xF0 {
		return nil, fmt.Errorf("%w: ADTS syncword", ErrMalformedRecord)
	}
	headerLen := ADTSHeaderLength
	if frame[1]&0x01 == 0 { // protection_absent clear: 2-byte CRC follows
		headerLen += 2
	}
	if len(frame) < headerLen {
		return nil, fmt.Errorf("%w: ADTS frame shorter than header", ErrMalformedRecord)
	}
	return frame[headerLen:], nil
}

// ParseADTSHeader recovers the AudioSpecificConfig triple from an ADTS
// header.
func ParseADTSHeader(frame []byte) (AudioSpecificConfig, error) {
	if len(frame) < ADTSHeaderLength {
		return AudioSpecificConfig{}, fmt.Errorf("%w: ADTS frame of %d bytes", ErrMalformedRecord, len(frame))
	}
	if frame[0] != 0xFF || frame[1]&0xF0 != 0xF0 {
		return AudioSpecificConfig{}, fmt.Errorf("%w: ADTS syncword", ErrMalformedRecord)
	}
	return AudioSpecificConfig{
		ObjectType:     (frame[2]>>6)&0x03 + 1,
		FrequencyIndex: (frame[2] >> 2) & 0x0F,
		ChannelConfig:  (frame[2]&0x01)<<2 | frame[3]>>6,
	}, nil
}
