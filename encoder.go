package webcodecs

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// VideoEncoderConfig describes the stream a VideoEncoder should produce.
type VideoEncoderConfig struct {
	// Codec is the WebCodecs codec string, e.g. "avc1.42001E".
	Codec string

	Width  int
	Height int

	// Framerate in frames per second. Defaults to 30.
	Framerate int

	// Bitrate in bits per second. Passed through to the engine
	// unmodified; rate control is the engine's business.
	Bitrate int
}

// EncodedVideoChunkMetadata accompanies encoded output. DecoderConfig is
// populated on the first chunk of a stream and carries the out-of-band
// description (AVCC/HVCC record) a decoder needs.
type EncodedVideoChunkMetadata struct {
	DecoderConfig *VideoDecoderConfig
}

// VideoEncoderInit carries the encoder's callbacks and collaborators.
type VideoEncoderInit struct {
	// Output receives each encoded chunk. Metadata is non-nil on the
	// first chunk of a configured stream.
	Output func(*EncodedChunk, *EncodedVideoChunkMetadata)

	// Error receives asynchronous failures. Must not be nil.
	Error func(error)

	Engine       EngineFactory
	Diagnostics  Diagnostics
	QueueCeiling int
}

// VideoEncoder is the encode-direction pipeline for video. Engine output
// for H.264/HEVC arrives as Annex-B; the encoder extracts parameter sets
// into a decoder description on the first chunk and re-wraps samples as
// length-prefixed. VP8/VP9/AV1 output passes through with IVF-style
// keyframe classification as a fallback.
type VideoEncoder struct {
	p      *pipeline
	output func(*EncodedChunk, *EncodedVideoChunkMetadata)

	mu         sync.Mutex
	codec      VideoCodec
	codecStr   string
	framerate  int
	width      int
	height     int
	timestamps []int64 // submitted frame timestamps awaiting output
	sentConfig bool
}

// NewVideoEncoder creates an unconfigured encoder.
func NewVideoEncoder(init VideoEncoderInit) (*VideoEncoder, error) {
	if init.Output == nil || init.Error == nil {
		return nil, errors.New("webcodecs: VideoEncoder requires Output and Error callbacks")
	}
	factory := init.Engine
	if factory == nil {
		factory = defaultEngineFactory()
	}
	e := &VideoEncoder{output: init.Output}
	e.p = newPipeline("VideoEncoder", factory, init.QueueCeiling, init.Diagnostics, e.translate, init.Error)
	return e, nil
}

// State returns the lifecycle state.
func (e *VideoEncoder) State() State { return e.p.currentState() }

// EncodeQueueSize returns the number of submitted frames the engine has
// not yet acknowledged.
func (e *VideoEncoder) EncodeQueueSize() int { return e.p.queueSize() }

// Configure validates cfg, tears down any running engine and starts a new
// one bound to it.
func (e *VideoEncoder) Configure(cfg VideoEncoderConfig) error {
	codec := ParseVideoCodec(cfg.Codec)
	if codec == VideoCodecUnknown {
		return fmt.Errorf("%w: codec %q", ErrNotSupported, cfg.Codec)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: width and height must be positive", ErrNotSupported)
	}
	if cfg.Framerate < 0 || cfg.Bitrate < 0 {
		return fmt.Errorf("%w: framerate and bitrate must be positive", ErrNotSupported)
	}
	framerate := cfg.Framerate
	if framerate == 0 {
		framerate = 30
	}

	err := e.p.configure(EngineConfig{
		Direction:  EngineEncode,
		VideoCodec: codec,
		Width:      cfg.Width,
		Height:     cfg.Height,
		Framerate:  framerate,
		Bitrate:    cfg.Bitrate,
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.codec = codec
	e.codecStr = cfg.Codec
	e.framerate = framerate
	e.width = cfg.Width
	e.height = cfg.Height
	e.timestamps = nil
	e.sentConfig = false
	e.mu.Unlock()
	return nil
}

// Encode submits one raw frame. The frame remains owned by the caller and
// may be closed once Encode returns.
func (e *VideoEncoder) Encode(frame *VideoFrame) error {
	data, err := frame.Bytes()
	if err != nil {
		return err
	}
	if err := e.p.submit("encode", data); err != nil {
		return err
	}
	e.mu.Lock()
	e.timestamps = append(e.timestamps, frame.Timestamp)
	e.mu.Unlock()
	return nil
}

// Flush drains the engine; see the pipeline flush contract.
func (e *VideoEncoder) Flush(ctx context.Context) error {
	err := e.p.flush(ctx)
	if err == nil {
		e.mu.Lock()
		e.timestamps = nil
		e.sentConfig = false
		e.mu.Unlock()
	}
	return err
}

// Reset returns to unconfigured without closing.
func (e *VideoEncoder) Reset() error {
	if err := e.p.reset(); err != nil {
		return err
	}
	e.mu.Lock()
	e.codec = VideoCodecUnknown
	e.timestamps = nil
	e.sentConfig = false
	e.mu.Unlock()
	return nil
}

// Close is idempotent and terminal.
func (e *VideoEncoder) Close() error { return e.p.close() }

// translate turns one engine output into an encoded chunk, deriving the
// stream description from the first H.264/HEVC output.
func (e *VideoEncoder) translate(ev EngineFrame) {
	if ev.Release != nil {
		defer ev.Release()
	}

	e.mu.Lock()
	codec := e.codec
	codecStr := e.codecStr
	framerate := e.framerate
	width, height := e.width, e.height
	var ts int64
	havets := len(e.timestamps) > 0
	if havets {
		ts = e.timestamps[0]
		e.timestamps = e.timestamps[1:]
	}
	firstChunk := !e.sentConfig
	e.mu.Unlock()

	if !havets {
		ts = e.p.reserveTimestamps(1, framerate)
	}

	payload := ev.Data
	keyframe := ev.Keyframe
	var meta *EncodedVideoChunkMetadata

	switch codec {
	case VideoCodecH264, VideoCodecH265:
		converted, description, key, err := e.packageAnnexB(codec, ev.Data, firstChunk)
		if err != nil {
			e.p.reportError(&EncodingError{Op: "encode", Err: err})
			return
		}
		payload = converted
		keyframe = keyframe || key
		if description != nil {
			meta = &EncodedVideoChunkMetadata{DecoderConfig: &VideoDecoderConfig{
				Codec:       codecStr,
				Description: description,
				CodedWidth:  width,
				CodedHeight: height,
				Framerate:   framerate,
			}}
		}
	default:
		if !keyframe {
			keyframe = IVFKeyframe(codec, payload)
		}
		if firstChunk {
			meta = &EncodedVideoChunkMetadata{DecoderConfig: &VideoDecoderConfig{
				Codec:       codecStr,
				CodedWidth:  width,
				CodedHeight: height,
				Framerate:   framerate,
			}}
		}
	}

	if meta != nil {
		e.mu.Lock()
		e.sentConfig = true
		e.mu.Unlock()
	}

	typ := ChunkTypeDelta
	if keyframe {
		typ = ChunkTypeKey
	}
	duration := int64(0)
	if framerate > 0 {
		duration = 1_000_000 / int64(framerate)
	}
	e.output(NewEncodedChunk(typ, ts, duration, payload), meta)
}

// packageAnnexB converts an Annex-B engine output into a length-prefixed
// sample, builds the decoder description from its parameter sets when
// wanted, and classifies the keyframe from slice NAL types.
func (e *VideoEncoder) packageAnnexB(codec VideoCodec, annexB []byte, wantDescription bool) (sample, description []byte, keyframe bool, err error) {
	var desc []byte
	if wantDescription {
		if codec == VideoCodecH265 {
			vps, sps, pps := ExtractHEVCParameterSets(annexB)
			if rec := NewHEVCDecoderConfig(vps, sps, pps); rec != nil {
				desc = rec.Marshal()
			}
		} else {
			sps, pps := ExtractH264ParameterSets(annexB)
			if rec := NewAVCDecoderConfig(sps, pps); rec != nil {
				desc = rec.Marshal()
			}
		}
	}

	for _, nalu := range SplitAnnexB(annexB) {
		if len(nalu) == 0 {
			continue
		}
		if codec == VideoCodecH265 {
			t := h265NALType(nalu[0])
			if h265IsSlice(t) {
				keyframe = h265IsIRAP(t)
				break
			}
		} else {
			switch h264NALType(nalu[0]) {
			case h264NALIDR:
				keyframe = true
			case h264NALSlice:
			default:
				continue
			}
			break
		}
	}

	sample, err = AnnexBToLengthPrefixed(annexB, 4)
	if err != nil {
		return nil, nil, false, err
	}
	return sample, desc, keyframe, nil
}

// AudioEncoderConfig describes the stream an AudioEncoder should produce.
type AudioEncoderConfig struct {
	// Codec is the WebCodecs codec string, e.g. "mp4a.40.2" or "opus".
	Codec string

	SampleRate int
	Channels   int

	// Bitrate in bits per second.
	Bitrate int
}

// EncodedAudioChunkMetadata accompanies encoded output; DecoderConfig is
// populated on the first chunk with the AudioSpecificConfig description.
type EncodedAudioChunkMetadata struct {
	DecoderConfig *AudioDecoderConfig
}

// AudioEncoderInit carries the encoder's callbacks and collaborators.
type AudioEncoderInit struct {
	Output func(*EncodedChunk, *EncodedAudioChunkMetadata)
	Error  func(error)

	Engine       EngineFactory
	Diagnostics  Diagnostics
	QueueCeiling int
}

// AudioEncoder is the encode-direction pipeline for audio. AAC engine
// output arrives as ADTS frames; the encoder strips the framing and
// exposes the AudioSpecificConfig description on the first chunk.
type AudioEncoder struct {
	p      *pipeline
	output func(*EncodedChunk, *EncodedAudioChunkMetadata)

	mu         sync.Mutex
	codec      AudioCodec
	codecStr   string
	sampleRate int
	channels   int
	timestamps []int64
	sentConfig bool
}

// NewAudioEncoder creates an unconfigured encoder.
func NewAudioEncoder(init AudioEncoderInit) (*AudioEncoder, error) {
	if init.Output == nil || init.Error == nil {
		return nil, errors.New("webcodecs: AudioEncoder requires Output and Error callbacks")
	}
	factory := init.Engine
	if factory == nil {
		factory = defaultEngineFactory()
	}
	e := &AudioEncoder{output: init.Output}
	e.p = newPipeline("AudioEncoder", factory, init.QueueCeiling, init.Diagnostics, e.translate, init.Error)
	return e, nil
}

// State returns the lifecycle state.
func (e *AudioEncoder) State() State { return e.p.currentState() }

// EncodeQueueSize returns the number of submitted buffers the engine has
// not yet acknowledged.
func (e *AudioEncoder) EncodeQueueSize() int { return e.p.queueSize() }

// Configure validates cfg, tears down any running engine and starts a new
// one bound to it.
func (e *AudioEncoder) Configure(cfg AudioEncoderConfig) error {
	codec := ParseAudioCodec(cfg.Codec)
	if codec == AudioCodecUnknown {
		return fmt.Errorf("%w: codec %q", ErrNotSupported, cfg.Codec)
	}
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return fmt.Errorf("%w: sample rate and channels must be positive", ErrNotSupported)
	}
	if codec == AudioCodecAAC {
		if _, ok := FrequencyIndexFor(cfg.SampleRate); !ok {
			return fmt.Errorf("%w: AAC sample rate %d", ErrNotSupported, cfg.SampleRate)
		}
	}

	err := e.p.configure(EngineConfig{
		Direction:  EngineEncode,
		AudioCodec: codec,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		Bitrate:    cfg.Bitrate,
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.codec = codec
	e.codecStr = cfg.Codec
	e.sampleRate = cfg.SampleRate
	e.channels = cfg.Channels
	e.timestamps = nil
	e.sentConfig = false
	e.mu.Unlock()
	return nil
}

// Encode submits one block of raw samples.
func (e *AudioEncoder) Encode(data *AudioData) error {
	payload, err := data.Bytes()
	if err != nil {
		return err
	}
	if err := e.p.submit("encode", payload); err != nil {
		return err
	}
	e.mu.Lock()
	e.timestamps = append(e.timestamps, data.Timestamp)
	e.mu.Unlock()
	return nil
}

// Flush drains the engine; see the pipeline flush contract.
func (e *AudioEncoder) Flush(ctx context.Context) error {
	err := e.p.flush(ctx)
	if err == nil {
		e.mu.Lock()
		e.timestamps = nil
		e.sentConfig = false
		e.mu.Unlock()
	}
	return err
}

// Reset returns to unconfigured without closing.
func (e *AudioEncoder) Reset() error {
	if err := e.p.reset(); err != nil {
		return err
	}
	e.mu.Lock()
	e.codec = AudioCodecUnknown
	e.timestamps = nil
	e.sentConfig = false
	e.mu.Unlock()
	return nil
}

// Close is idempotent and terminal.
func (e *AudioEncoder) Close() error { return e.p.close() }

func (e *AudioEncoder) translate(ev EngineFrame) {
	if ev.Release != nil {
		defer ev.Release()
	}

	e.mu.Lock()
	codec := e.codec
	codecStr := e.codecStr
	sampleRate, channels := e.sampleRate, e.channels
	var ts int64
	havets := len(e.timestamps) > 0
	if havets {
		ts = e.timestamps[0]
		e.timestamps = e.timestamps[1:]
	}
	firstChunk := !e.sentConfig
	e.mu.Unlock()

	payload := ev.Data
	var meta *EncodedAudioChunkMetadata

	if codec == AudioCodecAAC {
		raw, err := StripADTS(ev.Data)
		if err != nil {
			e.p.reportError(&EncodingError{Op: "encode", Err: err})
			return
		}
		payload = raw
		if firstChunk {
			asc, err := ParseADTSHeader(ev.Data)
			if err != nil {
				e.p.reportError(&EncodingError{Op: "encode", Err: err})
				return
			}
			meta = &EncodedAudioChunkMetadata{DecoderConfig: &AudioDecoderConfig{
				Codec:       codecStr,
				Description: asc.Marshal(),
				SampleRate:  sampleRate,
				Channels:    channels,
			}}
		}
	} else if firstChunk {
		meta = &EncodedAudioChunkMetadata{DecoderConfig: &AudioDecoderConfig{
			Codec:      codecStr,
			SampleRate: sampleRate,
			Channels:   channels,
		}}
	}

	if meta != nil {
		e.mu.Lock()
		e.sentConfig = true
		e.mu.Unlock()
	}

	samples := ev.Samples
	if samples <= 0 {
		samples = 1024
	}
	if !havets {
		ts = e.p.reserveTimestamps(samples, sampleRate)
	} else {
		// Keep the running index advancing so a fallback after a
		// timestamp gap stays monotonic.
		e.p.reserveTimestamps(samples, sampleRate)
	}
	duration := int64(samples) * 1_000_000 / int64(sampleRate)

	e.output(NewEncodedChunk(ChunkTypeKey, ts, duration, payload), meta)
}
