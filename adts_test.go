package webcodecs

import (
	"bytes"
	"errors"
	"testing"
)

func TestAudioSpecificConfigRoundTrip(t *testing.T) {
	cases := []AudioSpecificConfig{
		{ObjectType: 2, FrequencyIndex: 3, ChannelConfig: 2},  // AAC LC 48 kHz stereo
		{ObjectType: 2, FrequencyIndex: 4, ChannelConfig: 1},  // AAC LC 44.1 kHz mono
		{ObjectType: 5, FrequencyIndex: 8, ChannelConfig: 2},  // SBR
		{ObjectType: 2, FrequencyIndex: 11, ChannelConfig: 6}, // 8 kHz 5.1
	}
	for _, want := range cases {
		got, err := ParseAudioSpecificConfig(want.Marshal())
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("round trip %+v -> %+v", want, got)
		}
	}
}

func TestAudioSpecificConfigTooShort(t *testing.T) {
	if _, err := ParseAudioSpecificConfig([]byte{0x12}); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("short config = %v, want ErrMalformedRecord", err)
	}
}

func TestADTSWrap(t *testing.T) {
	asc := AudioSpecificConfig{ObjectType: 2, FrequencyIndex: 4, ChannelConfig: 2}
	payload := make([]byte, 10)
	for i := range payload {
		payload[i] = byte(i)
	}

	frame := asc.WrapADTS(payload)
	if len(frame) != 17 {
		t.Fatalf("ADTS frame length = %d, want 17", len(frame))
	}
	if frame[0] != 0xFF || frame[1] != 0xF1 {
		t.Fatalf("ADTS frame starts % x, want FF F1", frame[:2])
	}

	// aac_frame_length covers header plus payload.
	frameLen := int(frame[3]&0x03)<<11 | int(frame[4])<<3 | int(frame[5])>>5
	if frameLen != 17 {
		t.Fatalf("aac_frame_length = %d, want 17", frameLen)
	}
}

func TestADTSStripRoundTrip(t *testing.T) {
	asc := AudioSpecificConfig{ObjectType: 2, FrequencyIndex: 3, ChannelConfig: 2}
	payload := []byte{0x21, 0x10, 0x04, 0x60, 0x8C, 0x1C}

	got, err := StripADTS(asc.WrapADTS(payload))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("strip(wrap(p)) = % x, want % x", got, payload)
	}
}

func TestStripADTSRejectsGarbage(t *testing.T) {
	if _, err := StripADTS([]byte{1, 2, 3}); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("short frame = %v, want ErrMalformedRecord", err)
	}
	if _, err := StripADTS([]byte{0x12, 0x34, 0, 0, 0, 0, 0}); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("bad syncword = %v, want ErrMalformedRecord", err)
	}
}

func TestParseADTSHeaderRecoversConfig(t *testing.T) {
	want := AudioSpecificConfig{ObjectType: 2, FrequencyIndex: 3, ChannelConfig: 2}
	got, err := ParseADTSHeader(want.WrapADTS([]byte{0xAA, 0xBB}))
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("recovered config = %+v, want %+v", got, want)
	}
}

func TestFrequencyIndexFor(t *testing.T) {
	cases := []struct {
		rate int
		idx  uint8
		ok   bool
	}{
		{96000, 0, true},
		{48000, 3, true},
		{44100, 4, true},
		{8000, 11, true},
		{44000, 0, false},
	}
	for _, tc := range cases {
		idx, ok := FrequencyIndexFor(tc.rate)
		if idx != tc.idx || ok != tc.ok {
			t.Errorf("FrequencyIndexFor(%d) = %d, %v; want %d, %v", tc.rate, idx, ok, tc.idx, tc.ok)
		}
	}
}

func TestSampleRateLookup(t *testing.T) {
	if got := (AudioSpecificConfig{FrequencyIndex: 3}).SampleRate(); got != 48000 {
		t.Fatalf("SampleRate(index 3) = %d, want 48000", got)
	}
	if got := (AudioSpecificConfig{FrequencyIndex: 15}).SampleRate(); got != 0 {
		t.Fatalf("SampleRate(reserved index) = %d, want 0", got)
	}
}
