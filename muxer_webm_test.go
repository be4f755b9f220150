package webcodecs

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestWebMCodecID(t *testing.T) {
	cases := []struct {
		codec string
		want  string
	}{
		{"avc1.42001E", "V_MPEG4/ISO/AVC"},
		{"hvc1.1.6.L93.B0", "V_MPEGH/ISO/HEVC"},
		{"vp8", "V_VP8"},
		{"vp09.00.10.08", "V_VP9"},
		{"av01.0.04M.08", "V_AV1"},
		{"mp4a.40.2", "A_AAC"},
		{"opus", "A_OPUS"},
	}
	for _, tc := range cases {
		got, err := webmCodecID(tc.codec)
		if err != nil {
			t.Errorf("webmCodecID(%q): %v", tc.codec, err)
			continue
		}
		if got != tc.want {
			t.Errorf("webmCodecID(%q) = %q, want %q", tc.codec, got, tc.want)
		}
	}
	if _, err := webmCodecID("h263"); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("webmCodecID(h263) = %v, want ErrNotSupported", err)
	}
}

func TestWebMBackendWritesContainer(t *testing.T) {
	var buf bytes.Buffer
	b := NewWebMBackend(&buf)
	ctx := context.Background()

	if err := b.Open(ctx); err != nil {
		t.Fatal(err)
	}
	v, err := b.AddVideoTrack(ctx, MuxerVideoTrack{Codec: "vp8", Width: 640, Height: 480, Framerate: 30})
	if err != nil {
		t.Fatal(err)
	}
	a, err := b.AddAudioTrack(ctx, MuxerAudioTrack{Codec: "opus", SampleRate: 48000, Channels: 2})
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 || a != 1 {
		t.Fatalf("track indices = %d, %d; want 0, 1", v, a)
	}

	if err := b.WriteVideoChunk(ctx, v, NewEncodedChunk(ChunkTypeKey, 0, 33333, []byte{0x50, 1, 2})); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteAudioChunk(ctx, a, NewEncodedChunk(ChunkTypeKey, 0, 20000, []byte{0xFC, 3})); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(ctx); err != nil {
		t.Fatal(err)
	}

	out := buf.Bytes()
	if len(out) == 0 {
		t.Fatal("no container bytes written")
	}
	// EBML header magic.
	if !bytes.HasPrefix(out, []byte{0x1A, 0x45, 0xDF, 0xA3}) {
		t.Fatalf("output starts % x, want EBML magic", out[:4])
	}
}

func TestWebMBackendRejectsLateTracks(t *testing.T) {
	var buf bytes.Buffer
	b := NewWebMBackend(&buf)
	ctx := context.Background()

	if err := b.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AddVideoTrack(ctx, MuxerVideoTrack{Codec: "vp8", Width: 64, Height: 64}); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteVideoChunk(ctx, 0, NewEncodedChunk(ChunkTypeKey, 0, 0, []byte{0x50})); err != nil {
		t.Fatal(err)
	}
	// The container is materialized; the track set is frozen.
	if _, err := b.AddAudioTrack(ctx, MuxerAudioTrack{Codec: "opus", SampleRate: 48000, Channels: 2}); err == nil {
		t.Fatal("track registered after the first write")
	}
	b.Close(ctx)
}

func TestWebMBackendUnknownTrack(t *testing.T) {
	var buf bytes.Buffer
	b := NewWebMBackend(&buf)
	ctx := context.Background()

	if err := b.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AddVideoTrack(ctx, MuxerVideoTrack{Codec: "vp8", Width: 64, Height: 64}); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteVideoChunk(ctx, 5, NewEncodedChunk(ChunkTypeKey, 0, 0, []byte{0x50})); err == nil {
		t.Fatal("write to unregistered track succeeded")
	}
	b.Close(ctx)
}

func TestWebRTCCapabilityMapping(t *testing.T) {
	for _, codec := range []string{"avc1.42001E", "vp8", "vp09.00.10.08", "av01.0.04M.08"} {
		cap, err := webrtcCapability(codec)
		if err != nil {
			t.Errorf("webrtcCapability(%q): %v", codec, err)
			continue
		}
		if cap.ClockRate != 90000 {
			t.Errorf("webrtcCapability(%q) clock = %d, want 90000", codec, cap.ClockRate)
		}
	}

	cap, err := webrtcCapability("opus")
	if err != nil {
		t.Fatal(err)
	}
	if cap.ClockRate != 48000 || cap.Channels != 2 {
		t.Fatalf("opus capability = %+v", cap)
	}

	// AAC has no RTP payload mapping in WebRTC.
	if _, err := webrtcCapability("mp4a.40.2"); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("webrtcCapability(aac) = %v, want ErrNotSupported", err)
	}
}
