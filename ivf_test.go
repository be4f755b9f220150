package webcodecs

import (
	"bytes"
	"errors"
	"testing"
)

func buildIVF(t *testing.T, fourcc string, payloads ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewIVFWriter(&buf)
	if err := w.WriteHeader(IVFHeader{
		FourCC:      fourcc,
		Width:       640,
		Height:      480,
		TimebaseDen: 30,
		TimebaseNum: 1,
		FrameCount:  uint32(len(payloads)),
	}); err != nil {
		t.Fatal(err)
	}
	for i, p := range payloads {
		if err := w.WriteFrame(p, uint64(i)); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

func TestIVFRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{0x50, 0x01, 0x02}, // VP8 keyframe (bit 0 clear)
		{0x51, 0x03},       // delta
		{0x53, 0x04, 0x05, 0x06},
	}
	stream := buildIVF(t, "VP80", payloads...)

	r := NewIVFReader()
	frames, err := r.Push(stream)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}

	hdr := r.Header()
	if hdr == nil || hdr.FourCC != "VP80" || hdr.Width != 640 || hdr.Height != 480 {
		t.Fatalf("header = %+v", hdr)
	}
	if hdr.Codec() != VideoCodecVP8 {
		t.Fatalf("header codec = %v, want VP8", hdr.Codec())
	}

	for i, f := range frames {
		if !bytes.Equal(f.Data, payloads[i]) {
			t.Fatalf("frame %d payload = % x, want % x", i, f.Data, payloads[i])
		}
		if f.Timestamp != uint64(i) || f.Index != uint64(i) {
			t.Fatalf("frame %d timing = ts %d idx %d", i, f.Timestamp, f.Index)
		}
	}
	if !frames[0].Keyframe || frames[1].Keyframe {
		t.Fatal("VP8 keyframe classification wrong")
	}
}

func TestIVFChunkedPushEquivalence(t *testing.T) {
	payloads := [][]byte{
		{0x50, 0x01, 0x02, 0x03, 0x04},
		{0x51},
		{0x53, 0x05, 0x06},
		{0x51, 0x07, 0x08, 0x09},
	}
	stream := buildIVF(t, "VP80", payloads...)

	whole := NewIVFReader()
	want, err := whole.Push(stream)
	if err != nil {
		t.Fatal(err)
	}

	// Any split points, including mid-header and mid-payload, must yield
	// the identical frame sequence.
	for _, chunkSize := range []int{1, 3, 7, 13, 64} {
		r := NewIVFReader()
		var got []IVFFrame
		for pos := 0; pos < len(stream); pos += chunkSize {
			end := pos + chunkSize
			if end > len(stream) {
				end = len(stream)
			}
			frames, err := r.Push(stream[pos:end])
			if err != nil {
				t.Fatal(err)
			}
			got = append(got, frames...)
		}
		if len(got) != len(want) {
			t.Fatalf("chunk size %d: %d frames, want %d", chunkSize, len(got), len(want))
		}
		for i := range want {
			if !bytes.Equal(got[i].Data, want[i].Data) ||
				got[i].Timestamp != want[i].Timestamp ||
				got[i].Keyframe != want[i].Keyframe ||
				got[i].Index != want[i].Index {
				t.Fatalf("chunk size %d: frame %d differs", chunkSize, i)
			}
		}
	}
}

func TestIVFBadSignature(t *testing.T) {
	stream := buildIVF(t, "VP80", []byte{0x50})
	stream[0] = 'X'

	r := NewIVFReader()
	if _, err := r.Push(stream); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("Push(bad signature) = %v, want ErrMalformedRecord", err)
	}
}

func TestIVFKeyframeClassification(t *testing.T) {
	cases := []struct {
		name  string
		codec VideoCodec
		frame []byte
		want  bool
	}{
		{"vp8 key", VideoCodecVP8, []byte{0x50, 0x00}, true},
		{"vp8 delta", VideoCodecVP8, []byte{0x51, 0x00}, false},
		// frame_marker=10, profile 0, show_existing=0, frame_type=0
		{"vp9 key", VideoCodecVP9, []byte{0x82, 0x49, 0x83, 0x42}, true},
		{"vp9 delta", VideoCodecVP9, []byte{0x86, 0x00}, false},
		{"vp9 bad marker", VideoCodecVP9, []byte{0x02, 0x00}, false},
		// sequence header OBU implies a keyframe temporal unit
		{"av1 sequence header", VideoCodecAV1, []byte{0x0A, 0x02, 0x00, 0x00}, true},
		// frame OBU, show_existing=0, frame_type=00
		{"av1 key frame obu", VideoCodecAV1, []byte{0x32, 0x01, 0x10}, true},
		// frame OBU, frame_type=01 (inter)
		{"av1 inter frame obu", VideoCodecAV1, []byte{0x32, 0x01, 0x30}, false},
		{"empty", VideoCodecVP8, nil, false},
	}
	for _, tc := range cases {
		if got := IVFKeyframe(tc.codec, tc.frame); got != tc.want {
			t.Errorf("%s: IVFKeyframe = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIVFWriterFrameBeforeHeader(t *testing.T) {
	w := NewIVFWriter(&bytes.Buffer{})
	if err := w.WriteFrame([]byte{1}, 0); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("WriteFrame before header = %v, want ErrInvalidState", err)
	}
}
