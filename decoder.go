package webcodecs

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// VideoDecoderConfig describes the stream a VideoDecoder should accept.
type VideoDecoderConfig struct {
	// Codec is the WebCodecs codec string, e.g. "avc1.42001E",
	// "hvc1.1.6.L93.B0", "vp8", "vp09.00.10.08", "av01.0.04M.08".
	Codec string

	// Description is the out-of-band decoder configuration: an AVCC or
	// HVCC record for H.264/HEVC. When present, Decode expects
	// length-prefixed samples; when absent, Annex-B (or raw VP8/VP9/AV1
	// frames) is assumed.
	Description []byte

	CodedWidth  int
	CodedHeight int

	// Framerate drives output timestamp reconstruction. Defaults to 30.
	Framerate int
}

// VideoDecoderInit carries the decoder's callbacks and collaborators.
type VideoDecoderInit struct {
	// Output receives each decoded frame. The receiver owns the frame
	// and must Close it.
	Output func(*VideoFrame)

	// Error receives asynchronous failures: engine errors, quota
	// rejections, per-item processing failures. Must not be nil.
	Error func(error)

	// Engine overrides the engine factory. Defaults to the native
	// engine.
	Engine EngineFactory

	Diagnostics  Diagnostics
	QueueCeiling int
}

// VideoDecoder is the decode-direction pipeline for video. Lifecycle and
// backpressure semantics are shared with the other three faces; this type
// adds H.264/HEVC bitstream normalization between the caller's sample
// format and the engine's Annex-B input.
type VideoDecoder struct {
	p      *pipeline
	output func(*VideoFrame)

	mu         sync.Mutex
	codec      VideoCodec
	avc        *AVCDecoderConfig
	hevc       *HEVCDecoderConfig
	framerate  int
	width      int
	height     int
	sentParams bool
}

// NewVideoDecoder creates an unconfigured decoder.
func NewVideoDecoder(init VideoDecoderInit) (*VideoDecoder, error) {
	if init.Output == nil || init.Error == nil {
		return nil, errors.New("webcodecs: VideoDecoder requires Output and Error callbacks")
	}
	factory := init.Engine
	if factory == nil {
		factory = defaultEngineFactory()
	}
	d := &VideoDecoder{output: init.Output}
	d.p = newPipeline("VideoDecoder", factory, init.QueueCeiling, init.Diagnostics, d.translate, init.Error)
	return d, nil
}

// State returns the lifecycle state.
func (d *VideoDecoder) State() State { return d.p.currentState() }

// DecodeQueueSize returns the number of submitted samples the engine has
// not yet acknowledged.
func (d *VideoDecoder) DecodeQueueSize() int { return d.p.queueSize() }

// Configure validates cfg, tears down any running engine and starts a new
// one. Permitted while already configured.
func (d *VideoDecoder) Configure(cfg VideoDecoderConfig) error {
	codec := ParseVideoCodec(cfg.Codec)
	if codec == VideoCodecUnknown {
		return fmt.Errorf("%w: codec %q", ErrNotSupported, cfg.Codec)
	}
	if cfg.CodedWidth < 0 || cfg.CodedHeight < 0 || cfg.Framerate < 0 {
		return fmt.Errorf("%w: dimensions and framerate must be positive", ErrNotSupported)
	}
	framerate := cfg.Framerate
	if framerate == 0 {
		framerate = 30
	}

	var (
		avc   *AVCDecoderConfig
		hevc  *HEVCDecoderConfig
		extra []byte
	)
	if len(cfg.Description) > 0 {
		switch codec {
		case VideoCodecH264:
			rec, err := ParseAVCDecoderConfig(cfg.Description)
			if err != nil {
				return err
			}
			avc = rec
			extra = JoinAnnexB(append(append([][]byte{}, rec.SPS...), rec.PPS...))
		case VideoCodecH265:
			rec, err := ParseHEVCDecoderConfig(cfg.Description)
			if err != nil {
				return err
			}
			hevc = rec
			sets := append(append(append([][]byte{}, rec.VPS...), rec.SPS...), rec.PPS...)
			extra = JoinAnnexB(sets)
		default:
			return fmt.Errorf("%w: description not supported for %s", ErrNotSupported, codec)
		}
	}

	err := d.p.configure(EngineConfig{
		Direction:  EngineDecode,
		VideoCodec: codec,
		Width:      cfg.CodedWidth,
		Height:     cfg.CodedHeight,
		Framerate:  framerate,
		ExtraData:  extra,
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.codec = codec
	d.avc = avc
	d.hevc = hevc
	d.framerate = framerate
	d.width = cfg.CodedWidth
	d.height = cfg.CodedHeight
	d.sentParams = false
	d.mu.Unlock()
	return nil
}

// Decode submits one encoded chunk. H.264/HEVC samples configured with a
// description are converted from length-prefixed to Annex-B, with
// parameter sets prepended in class order on the first sample of the
// stream so in-band decoders can initialize.
func (d *VideoDecoder) Decode(chunk *EncodedChunk) error {
	payload, markSent, err := d.normalize(chunk.Bytes())
	if err != nil {
		return err
	}
	if err := d.p.submit("decode", payload); err != nil {
		return err
	}
	if markSent {
		d.mu.Lock()
		d.sentParams = true
		d.mu.Unlock()
	}
	return nil
}

func (d *VideoDecoder) normalize(sample []byte) (payload []byte, markSent bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.avc != nil:
		payload, err = d.avc.ToAnnexB(sample, !d.sentParams)
	case d.hevc != nil:
		payload, err = d.hevc.ToAnnexB(sample, !d.sentParams)
	default:
		return sample, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, !d.sentParams, nil
}

// Flush drains the engine. See the pipeline flush contract: shared
// in-flight operation, ErrFlushTimeout on ctx expiry, engine restarted
// either way.
func (d *VideoDecoder) Flush(ctx context.Context) error {
	err := d.p.flush(ctx)
	if err == nil {
		d.mu.Lock()
		d.sentParams = false
		d.mu.Unlock()
	}
	return err
}

// Reset returns to unconfigured without closing.
func (d *VideoDecoder) Reset() error {
	if err := d.p.reset(); err != nil {
		return err
	}
	d.mu.Lock()
	d.codec = VideoCodecUnknown
	d.avc, d.hevc = nil, nil
	d.sentParams = false
	d.mu.Unlock()
	return nil
}

// Close is idempotent and terminal.
func (d *VideoDecoder) Close() error { return d.p.close() }

// translate turns one engine output into a VideoFrame with a reconstructed
// timestamp. Engine timestamps are ignored: the running frame index keeps
// output timing monotonic and gap-free even if the engine batches.
func (d *VideoDecoder) translate(ev EngineFrame) {
	d.mu.Lock()
	framerate := d.framerate
	width, height := d.width, d.height
	d.mu.Unlock()

	if ev.Width > 0 {
		width = ev.Width
	}
	if ev.Height > 0 {
		height = ev.Height
	}
	ts := d.p.reserveTimestamps(1, framerate)

	var src FrameSource
	if ev.Release != nil {
		src = &BorrowedBuffer{Data: ev.Data, Release: ev.Release}
	} else {
		src = RawBytes(ev.Data)
	}
	frame, err := NewVideoFrame(PixelFormatI420, width, height, ts, src)
	if err != nil {
		d.p.reportError(&EncodingError{Op: "decode", Err: err})
		return
	}
	d.output(frame)
}

// AudioDecoderConfig describes the stream an AudioDecoder should accept.
type AudioDecoderConfig struct {
	// Codec is the WebCodecs codec string, e.g. "mp4a.40.2" or "opus".
	Codec string

	// Description is the AudioSpecificConfig for AAC. When absent, one
	// is derived from SampleRate and Channels (AAC LC).
	Description []byte

	SampleRate int
	Channels   int
}

// AudioDecoderInit carries the decoder's callbacks and collaborators.
type AudioDecoderInit struct {
	Output func(*AudioData)
	Error  func(error)

	Engine       EngineFactory
	Diagnostics  Diagnostics
	QueueCeiling int
}

// AudioDecoder is the decode-direction pipeline for audio. Raw AAC
// payloads are wrapped in ADTS framing for the engine; Opus passes
// through.
type AudioDecoder struct {
	p      *pipeline
	output func(*AudioData)

	mu         sync.Mutex
	codec      AudioCodec
	asc        AudioSpecificConfig
	sampleRate int
	channels   int
}

// NewAudioDecoder creates an unconfigured decoder.
func NewAudioDecoder(init AudioDecoderInit) (*AudioDecoder, error) {
	if init.Output == nil || init.Error == nil {
		return nil, errors.New("webcodecs: AudioDecoder requires Output and Error callbacks")
	}
	factory := init.Engine
	if factory == nil {
		factory = defaultEngineFactory()
	}
	d := &AudioDecoder{output: init.Output}
	d.p = newPipeline("AudioDecoder", factory, init.QueueCeiling, init.Diagnostics, d.translate, init.Error)
	return d, nil
}

// State returns the lifecycle state.
func (d *AudioDecoder) State() State { return d.p.currentState() }

// DecodeQueueSize returns the number of submitted chunks the engine has
// not yet acknowledged.
func (d *AudioDecoder) DecodeQueueSize() int { return d.p.queueSize() }

// Configure validates cfg, tears down any running engine and starts a new
// one.
func (d *AudioDecoder) Configure(cfg AudioDecoderConfig) error {
	codec := ParseAudioCodec(cfg.Codec)
	if codec == AudioCodecUnknown {
		return fmt.Errorf("%w: codec %q", ErrNotSupported, cfg.Codec)
	}
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return fmt.Errorf("%w: sample rate and channels must be positive", ErrNotSupported)
	}

	var asc AudioSpecificConfig
	if codec == AudioCodecAAC {
		if len(cfg.Description) > 0 {
			parsed, err := ParseAudioSpecificConfig(cfg.Description)
			if err != nil {
				return err
			}
			asc = parsed
		} else {
			idx, ok := FrequencyIndexFor(cfg.SampleRate)
			if !ok {
				return fmt.Errorf("%w: AAC sample rate %d", ErrNotSupported, cfg.SampleRate)
			}
			asc = AudioSpecificConfig{ObjectType: 2, FrequencyIndex: idx, ChannelConfig: uint8(cfg.Channels)}
		}
	}

	var extra []byte
	if codec == AudioCodecAAC {
		extra = asc.Marshal()
	}
	err := d.p.configure(EngineConfig{
		Direction:  EngineDecode,
		AudioCodec: codec,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		ExtraData:  extra,
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.codec = codec
	d.asc = asc
	d.sampleRate = cfg.SampleRate
	d.channels = cfg.Channels
	d.mu.Unlock()
	return nil
}

// Decode submits one encoded chunk. Raw AAC frames are wrapped in ADTS
// before the engine sees them.
func (d *AudioDecoder) Decode(chunk *EncodedChunk) error {
	d.mu.Lock()
	codec, asc := d.codec, d.asc
	d.mu.Unlock()

	payload := chunk.Bytes()
	if codec == AudioCodecAAC {
		payload = asc.WrapADTS(payload)
	}
	return d.p.submit("decode", payload)
}

// Flush drains the engine; see the pipeline flush contract.
func (d *AudioDecoder) Flush(ctx context.Context) error { return d.p.flush(ctx) }

// Reset returns to unconfigured without closing.
func (d *AudioDecoder) Reset() error {
	if err := d.p.reset(); err != nil {
		return err
	}
	d.mu.Lock()
	d.codec = AudioCodecUnknown
	d.asc = AudioSpecificConfig{}
	d.mu.Unlock()
	return nil
}

// Close is idempotent and terminal.
func (d *AudioDecoder) Close() error { return d.p.close() }

func (d *AudioDecoder) translate(ev EngineFrame) {
	d.mu.Lock()
	sampleRate, channels := d.sampleRate, d.channels
	d.mu.Unlock()

	samples := ev.Samples
	if samples <= 0 {
		// AAC frames carry 1024 samples per channel.
		samples = 1024
	}
	if ev.Channels > 0 {
		channels = ev.Channels
	}
	ts := d.p.reserveTimestamps(samples, sampleRate)

	var src FrameSource
	if ev.Release != nil {
		src = &BorrowedBuffer{Data: ev.Data, Release: ev.Release}
	} else {
		src = RawBytes(ev.Data)
	}
	data, err := NewAudioData(AudioFormatS16, sampleRate, channels, samples, ts, src)
	if err != nil {
		d.p.reportError(&EncodingError{Op: "decode", Err: err})
		return
	}
	d.output(data)
}
