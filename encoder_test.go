package webcodecs

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

func testVideoFrame(t *testing.T, width, height int, timestamp int64) *VideoFrame {
	t.Helper()
	frame, err := NewVideoFrame(PixelFormatI420, width, height, timestamp,
		RawBytes(make([]byte, PixelFormatI420.BytesPerFrame(width, height))))
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func TestVideoEncoderConfigureValidation(t *testing.T) {
	enc, err := NewVideoEncoder(VideoEncoderInit{
		Output: func(*EncodedChunk, *EncodedVideoChunkMetadata) {},
		Error:  func(error) {},
		Engine: (&fakeFactory{}).new,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()

	cases := []VideoEncoderConfig{
		{Codec: "mpeg2", Width: 64, Height: 64},
		{Codec: "avc1.42001E", Width: 0, Height: 64},
		{Codec: "avc1.42001E", Width: 64, Height: 64, Bitrate: -1},
	}
	for _, cfg := range cases {
		if err := enc.Configure(cfg); !errors.Is(err, ErrNotSupported) {
			t.Fatalf("Configure(%+v) = %v, want ErrNotSupported", cfg, err)
		}
	}
}

func TestVideoEncoderH264Stream(t *testing.T) {
	factory := &fakeFactory{}
	var mu sync.Mutex
	var chunks []*EncodedChunk
	var metas []*EncodedVideoChunkMetadata
	enc, err := NewVideoEncoder(VideoEncoderInit{
		Output: func(c *EncodedChunk, m *EncodedVideoChunkMetadata) {
			mu.Lock()
			chunks = append(chunks, c)
			metas = append(metas, m)
			mu.Unlock()
		},
		Error:  func(err error) { t.Errorf("unexpected error: %v", err) },
		Engine: factory.new,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()

	if err := enc.Configure(VideoEncoderConfig{Codec: "avc1.42001E", Width: 64, Height: 64, Framerate: 30}); err != nil {
		t.Fatal(err)
	}
	eng := factory.last()

	wantTS := []int64{0, 33333, 66666}
	for _, ts := range wantTS {
		frame := testVideoFrame(t, 64, 64, ts)
		if err := enc.Encode(frame); err != nil {
			t.Fatal(err)
		}
		if err := frame.Close(); err != nil {
			t.Fatal(err)
		}
	}
	if got := eng.writeCount(); got != 3 {
		t.Fatalf("engine saw %d raw frames, want 3", got)
	}
	if got := len(eng.lastWrite()); got != PixelFormatI420.BytesPerFrame(64, 64) {
		t.Fatalf("raw frame payload = %d bytes, want %d", got, PixelFormatI420.BytesPerFrame(64, 64))
	}

	// Engine output: an IDR access unit with in-band parameter sets, then
	// two plain slices.
	slice := []byte{0x41, 0x9A, 0x02, 0x04}
	eng.events <- EngineFrame{Data: JoinAnnexB([][]byte{testSPS, testPPS, testIDR})}
	eng.events <- EngineFrame{Data: JoinAnnexB([][]byte{slice})}
	eng.events <- EngineFrame{Data: JoinAnnexB([][]byte{slice})}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(chunks) == 3
	}, "encoded chunks never delivered")

	mu.Lock()
	defer mu.Unlock()

	if chunks[0].Type != ChunkTypeKey {
		t.Fatalf("first chunk type = %v, want key", chunks[0].Type)
	}
	if chunks[0].ByteLength() == 0 {
		t.Fatal("first chunk has empty payload")
	}
	for i := 1; i < 3; i++ {
		if chunks[i].Type != ChunkTypeDelta {
			t.Fatalf("chunk %d type = %v, want delta", i, chunks[i].Type)
		}
		if metas[i] != nil {
			t.Fatalf("chunk %d carries metadata, want first chunk only", i)
		}
	}
	for i, c := range chunks {
		if c.Timestamp != wantTS[i] {
			t.Fatalf("chunk %d timestamp = %d, want %d", i, c.Timestamp, wantTS[i])
		}
		if c.Duration != 33333 {
			t.Fatalf("chunk %d duration = %d, want 33333", i, c.Duration)
		}
	}

	// The first chunk's metadata carries a parseable decoder description.
	if metas[0] == nil || metas[0].DecoderConfig == nil {
		t.Fatal("first chunk missing decoder config metadata")
	}
	cfg := metas[0].DecoderConfig
	if cfg.Codec != "avc1.42001E" || cfg.CodedWidth != 64 || cfg.CodedHeight != 64 {
		t.Fatalf("decoder config = %+v, want configured stream parameters", cfg)
	}
	rec, err := ParseAVCDecoderConfig(cfg.Description)
	if err != nil {
		t.Fatalf("description does not parse as an AVCC record: %v", err)
	}
	if len(rec.SPS) != 1 || !bytes.Equal(rec.SPS[0], testSPS) {
		t.Fatal("description SPS does not match the stream's SPS")
	}
	if len(rec.PPS) != 1 || !bytes.Equal(rec.PPS[0], testPPS) {
		t.Fatal("description PPS does not match the stream's PPS")
	}

	// Payloads are length-prefixed samples that convert back to the
	// engine's Annex-B output.
	annexB, err := LengthPrefixedToAnnexB(chunks[0].Bytes(), 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(annexB, JoinAnnexB([][]byte{testSPS, testPPS, testIDR})) {
		t.Fatal("first chunk payload does not round-trip to the Annex-B access unit")
	}
}

func TestVideoEncoderVP8Passthrough(t *testing.T) {
	factory := &fakeFactory{}
	var mu sync.Mutex
	var chunks []*EncodedChunk
	var metas []*EncodedVideoChunkMetadata
	enc, err := NewVideoEncoder(VideoEncoderInit{
		Output: func(c *EncodedChunk, m *EncodedVideoChunkMetadata) {
			mu.Lock()
			chunks = append(chunks, c)
			metas = append(metas, m)
			mu.Unlock()
		},
		Error:  func(err error) { t.Errorf("unexpected error: %v", err) },
		Engine: factory.new,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()

	if err := enc.Configure(VideoEncoderConfig{Codec: "vp8", Width: 64, Height: 64, Framerate: 30}); err != nil {
		t.Fatal(err)
	}
	frame := testVideoFrame(t, 64, 64, 0)
	if err := enc.Encode(frame); err != nil {
		t.Fatal(err)
	}
	frame.Close()

	// VP8 keyframe: frame tag bit 0 clear.
	payload := []byte{0x50, 0x01, 0x02, 0x03}
	factory.last().events <- EngineFrame{Data: payload}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(chunks) == 1
	}, "encoded chunk never delivered")

	mu.Lock()
	defer mu.Unlock()
	if !bytes.Equal(chunks[0].Bytes(), payload) {
		t.Fatal("VP8 payload not passed through untouched")
	}
	if chunks[0].Type != ChunkTypeKey {
		t.Fatalf("chunk type = %v, want key (VP8 frame tag)", chunks[0].Type)
	}
	if metas[0] == nil || metas[0].DecoderConfig == nil || metas[0].DecoderConfig.Description != nil {
		t.Fatal("VP8 metadata should carry a config without a description")
	}
}

func TestAudioEncoderADTSStrip(t *testing.T) {
	factory := &fakeFactory{}
	var mu sync.Mutex
	var chunks []*EncodedChunk
	var metas []*EncodedAudioChunkMetadata
	enc, err := NewAudioEncoder(AudioEncoderInit{
		Output: func(c *EncodedChunk, m *EncodedAudioChunkMetadata) {
			mu.Lock()
			chunks = append(chunks, c)
			metas = append(metas, m)
			mu.Unlock()
		},
		Error:  func(err error) { t.Errorf("unexpected error: %v", err) },
		Engine: factory.new,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()

	if err := enc.Configure(AudioEncoderConfig{Codec: "mp4a.40.2", SampleRate: 48000, Channels: 2}); err != nil {
		t.Fatal(err)
	}

	block, err := NewAudioData(AudioFormatS16, 48000, 2, 1024, 0, RawBytes(make([]byte, 4096)))
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.Encode(block); err != nil {
		t.Fatal(err)
	}
	block.Close()

	asc := AudioSpecificConfig{ObjectType: 2, FrequencyIndex: 3, ChannelConfig: 2}
	raw := []byte{0x21, 0x10, 0x04, 0x60, 0x8C, 0x1C}
	factory.last().events <- EngineFrame{Data: asc.WrapADTS(raw), Samples: 1024}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(chunks) == 1
	}, "encoded chunk never delivered")

	mu.Lock()
	defer mu.Unlock()
	if !bytes.Equal(chunks[0].Bytes(), raw) {
		t.Fatalf("chunk payload = % x, want ADTS framing stripped", chunks[0].Bytes())
	}
	if chunks[0].Type != ChunkTypeKey {
		t.Fatalf("chunk type = %v, want key (audio chunks are independent)", chunks[0].Type)
	}
	if chunks[0].Duration != 21333 {
		t.Fatalf("chunk duration = %d, want 21333 (1024 samples at 48 kHz)", chunks[0].Duration)
	}
	if metas[0] == nil || metas[0].DecoderConfig == nil {
		t.Fatal("first chunk missing decoder config metadata")
	}
	if !bytes.Equal(metas[0].DecoderConfig.Description, asc.Marshal()) {
		t.Fatal("metadata description is not the stream's AudioSpecificConfig")
	}
}

func TestAudioEncoderAACSampleRateValidation(t *testing.T) {
	enc, err := NewAudioEncoder(AudioEncoderInit{
		Output: func(*EncodedChunk, *EncodedAudioChunkMetadata) {},
		Error:  func(error) {},
		Engine: (&fakeFactory{}).new,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()

	if err := enc.Configure(AudioEncoderConfig{Codec: "mp4a.40.2", SampleRate: 44000, Channels: 2}); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("non-AAC sample rate = %v, want ErrNotSupported", err)
	}
}

func TestVideoEncoderClosedFrameRejected(t *testing.T) {
	enc, err := NewVideoEncoder(VideoEncoderInit{
		Output: func(*EncodedChunk, *EncodedVideoChunkMetadata) {},
		Error:  func(error) {},
		Engine: (&fakeFactory{}).new,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()

	if err := enc.Configure(VideoEncoderConfig{Codec: "vp8", Width: 64, Height: 64}); err != nil {
		t.Fatal(err)
	}
	frame := testVideoFrame(t, 64, 64, 0)
	frame.Close()
	if err := enc.Encode(frame); !errors.Is(err, ErrFrameClosed) {
		t.Fatalf("Encode(closed frame) = %v, want ErrFrameClosed", err)
	}
}
