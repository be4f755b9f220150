package webcodecs

import "testing"

func TestParseVideoCodec(t *testing.T) {
	cases := []struct {
		in   string
		want VideoCodec
	}{
		{"avc1.42001E", VideoCodecH264},
		{"avc3.64001F", VideoCodecH264},
		{"hvc1.1.6.L93.B0", VideoCodecH265},
		{"hev1.1.6.L93.B0", VideoCodecH265},
		{"vp8", VideoCodecVP8},
		{"vp09.00.10.08", VideoCodecVP9},
		{"av01.0.04M.08", VideoCodecAV1},
		{"vp9", VideoCodecUnknown},
		{"avc1", VideoCodecUnknown},
		{"", VideoCodecUnknown},
	}
	for _, tc := range cases {
		if got := ParseVideoCodec(tc.in); got != tc.want {
			t.Errorf("ParseVideoCodec(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseAudioCodec(t *testing.T) {
	cases := []struct {
		in   string
		want AudioCodec
	}{
		{"mp4a.40.2", AudioCodecAAC},
		{"mp4a.40.5", AudioCodecAAC},
		{"mp4a.40.29", AudioCodecAAC},
		{"opus", AudioCodecOpus},
		{"mp3", AudioCodecUnknown},
		{"", AudioCodecUnknown},
	}
	for _, tc := range cases {
		if got := ParseAudioCodec(tc.in); got != tc.want {
			t.Errorf("ParseAudioCodec(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestVideoCodecProperties(t *testing.T) {
	if !VideoCodecH264.LengthPrefixed() || !VideoCodecH265.LengthPrefixed() {
		t.Fatal("H.264/HEVC samples are length-prefixed in container form")
	}
	if VideoCodecVP9.LengthPrefixed() {
		t.Fatal("VP9 is not length-prefixed")
	}
	if got := VideoCodecVP9.IVFFourCC(); got != "VP90" {
		t.Fatalf("VP9 FourCC = %q", got)
	}
	if got := VideoCodecH264.IVFFourCC(); got != "" {
		t.Fatalf("H264 FourCC = %q, want empty (not carried in IVF)", got)
	}
}

func TestEngineCodecNumbering(t *testing.T) {
	cases := []struct {
		cfg  EngineConfig
		want int
	}{
		{EngineConfig{VideoCodec: VideoCodecH264}, 1},
		{EngineConfig{VideoCodec: VideoCodecH265}, 2},
		{EngineConfig{VideoCodec: VideoCodecVP8}, 3},
		{EngineConfig{VideoCodec: VideoCodecVP9}, 4},
		{EngineConfig{VideoCodec: VideoCodecAV1}, 5},
		{EngineConfig{AudioCodec: AudioCodecAAC}, 16},
		{EngineConfig{AudioCodec: AudioCodecOpus}, 17},
		{EngineConfig{}, 0},
	}
	for _, tc := range cases {
		if got := wcConfigCodecID(tc.cfg); got != tc.want {
			t.Errorf("wcConfigCodecID(%+v) = %d, want %d", tc.cfg, got, tc.want)
		}
	}
}
