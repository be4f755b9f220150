package webcodecs

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestVideoFrameLifecycle(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	frame, err := NewVideoFrame(PixelFormatI420, 2, 1, 1000, RawBytes(data))
	if err != nil {
		t.Fatal(err)
	}

	got, err := frame.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Bytes = % x, want % x", got, data)
	}
	if frame.AllocationSize() != 4 {
		t.Fatalf("AllocationSize = %d, want 4", frame.AllocationSize())
	}

	dst := make([]byte, 4)
	if n, err := frame.CopyTo(dst); err != nil || n != 4 {
		t.Fatalf("CopyTo = %d, %v; want 4, nil", n, err)
	}
	if _, err := frame.CopyTo(make([]byte, 3)); !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("CopyTo(short) = %v, want ErrBufferTooSmall", err)
	}

	if err := frame.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := frame.Close(); !errors.Is(err, ErrFrameClosed) {
		t.Fatalf("second Close = %v, want ErrFrameClosed", err)
	}
	if _, err := frame.Bytes(); !errors.Is(err, ErrFrameClosed) {
		t.Fatalf("Bytes after Close = %v, want ErrFrameClosed", err)
	}
	if _, err := frame.CopyTo(dst); !errors.Is(err, ErrFrameClosed) {
		t.Fatalf("CopyTo after Close = %v, want ErrFrameClosed", err)
	}
	if _, err := frame.Clone(); !errors.Is(err, ErrFrameClosed) {
		t.Fatalf("Clone after Close = %v, want ErrFrameClosed", err)
	}
}

func TestBorrowedBufferSingleRelease(t *testing.T) {
	releases := 0
	frame, err := NewVideoFrame(PixelFormatI420, 2, 1, 0, &BorrowedBuffer{
		Data:    []byte{1, 2, 3, 4},
		Release: func() { releases++ },
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := frame.Close(); err != nil {
		t.Fatal(err)
	}
	if releases != 1 {
		t.Fatalf("releases after Close = %d, want 1", releases)
	}
	if err := frame.Close(); !errors.Is(err, ErrFrameClosed) {
		t.Fatalf("second Close = %v, want ErrFrameClosed", err)
	}
	if releases != 1 {
		t.Fatalf("releases after double Close = %d, want exactly 1", releases)
	}
}

func TestVideoFrameCloneOutlivesOriginal(t *testing.T) {
	released := false
	frame, err := NewVideoFrame(PixelFormatI420, 2, 1, 500, &BorrowedBuffer{
		Data:    []byte{9, 8, 7, 6},
		Release: func() { released = true },
	})
	if err != nil {
		t.Fatal(err)
	}
	frame.Duration = 100

	clone, err := frame.Clone()
	if err != nil {
		t.Fatal(err)
	}
	if err := frame.Close(); err != nil {
		t.Fatal(err)
	}
	if !released {
		t.Fatal("original borrow not released")
	}

	got, err := clone.Bytes()
	if err != nil {
		t.Fatalf("clone unusable after original closed: %v", err)
	}
	if !bytes.Equal(got, []byte{9, 8, 7, 6}) {
		t.Fatalf("clone data = % x", got)
	}
	if clone.Timestamp != 500 || clone.Duration != 100 {
		t.Fatalf("clone timing = %d/%d, want 500/100", clone.Timestamp, clone.Duration)
	}
	if err := clone.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestStreamSourceDrainedAtConstruction(t *testing.T) {
	frame, err := NewVideoFrame(PixelFormatI420, 2, 1, 0, &StreamSource{R: strings.NewReader("abcd")})
	if err != nil {
		t.Fatal(err)
	}
	defer frame.Close()

	got, err := frame.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "abcd" {
		t.Fatalf("stream data = %q, want abcd", got)
	}
}

func TestAudioDataLifecycle(t *testing.T) {
	data, err := NewAudioData(AudioFormatS16, 48000, 2, 2, 0, RawBytes([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
	if err != nil {
		t.Fatal(err)
	}

	clone, err := data.Clone()
	if err != nil {
		t.Fatal(err)
	}
	if err := data.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := data.Bytes(); !errors.Is(err, ErrFrameClosed) {
		t.Fatalf("Bytes after Close = %v, want ErrFrameClosed", err)
	}
	if clone.SampleRate != 48000 || clone.Channels != 2 || clone.Frames != 2 {
		t.Fatalf("clone shape = %d/%d/%d", clone.SampleRate, clone.Channels, clone.Frames)
	}
	clone.Close()
}

func TestPixelFormatBytesPerFrame(t *testing.T) {
	cases := []struct {
		format PixelFormat
		w, h   int
		want   int
	}{
		{PixelFormatI420, 64, 64, 6144},
		{PixelFormatNV12, 64, 64, 6144},
		{PixelFormatRGBA32, 64, 64, 16384},
		{PixelFormatBGRA32, 2, 2, 16},
	}
	for _, tc := range cases {
		if got := tc.format.BytesPerFrame(tc.w, tc.h); got != tc.want {
			t.Errorf("%v.BytesPerFrame(%d, %d) = %d, want %d", tc.format, tc.w, tc.h, got, tc.want)
		}
	}
}

func TestEncodedChunkImmutable(t *testing.T) {
	src := []byte{1, 2, 3}
	chunk := NewEncodedChunk(ChunkTypeKey, 42, 7, src)
	src[0] = 0xFF

	if got := chunk.Bytes(); got[0] != 1 {
		t.Fatal("chunk payload aliases the caller's slice")
	}
	if chunk.ByteLength() != 3 {
		t.Fatalf("ByteLength = %d, want 3", chunk.ByteLength())
	}

	dst := make([]byte, 3)
	if err := chunk.CopyTo(dst); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dst, []byte{1, 2, 3}) {
		t.Fatalf("CopyTo produced % x", dst)
	}
	if err := chunk.CopyTo(make([]byte, 2)); !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("CopyTo(short) = %v, want ErrBufferTooSmall", err)
	}
}
