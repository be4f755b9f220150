package webcodecs

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// webrtcCapability maps a codec string to a pion RTP codec capability.
func webrtcCapability(codec string) (webrtc.RTPCodecCapability, error) {
	if vc := ParseVideoCodec(codec); vc != VideoCodecUnknown {
		var mime string
		switch vc {
		case VideoCodecH264:
			mime = webrtc.MimeTypeH264
		case VideoCodecH265:
			mime = webrtc.MimeTypeH265
		case VideoCodecVP8:
			mime = webrtc.MimeTypeVP8
		case VideoCodecVP9:
			mime = webrtc.MimeTypeVP9
		case VideoCodecAV1:
			mime = webrtc.MimeTypeAV1
		default:
			return webrtc.RTPCodecCapability{}, fmt.Errorf("%w: no RTP mapping for %q", ErrNotSupported, codec)
		}
		return webrtc.RTPCodecCapability{MimeType: mime, ClockRate: 90000}, nil
	}
	if ParseAudioCodec(codec) == AudioCodecOpus {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, nil
	}
	// AAC has no WebRTC payload mapping.
	return webrtc.RTPCodecCapability{}, fmt.Errorf("%w: no RTP mapping for %q", ErrNotSupported, codec)
}

// WebRTCBackend publishes chunks as live WebRTC tracks on a peer
// connection instead of writing a container. Video chunks configured from
// an H.264/HEVC pipeline must carry Annex-B or length-prefixed samples as
// negotiated by the packetizer; pion's sample track handles the RTP
// payloading.
type WebRTCBackend struct {
	pc       *webrtc.PeerConnection
	streamID string

	tracks []*webrtc.TrackLocalStaticSample
	lastTS []int64
	rates  []int // framerate or sample rate per track, for duration fallback
}

// NewWebRTCBackend creates a backend that adds tracks to pc.
func NewWebRTCBackend(pc *webrtc.PeerConnection, streamID string) *WebRTCBackend {
	if streamID == "" {
		streamID = "webcodecs"
	}
	return &WebRTCBackend{pc: pc, streamID: streamID}
}

// NewWebRTCBackendFactory adapts NewWebRTCBackend to the factory
// contract. Each acquisition gets a fresh peer connection from acquire.
func NewWebRTCBackendFactory(acquire func() (*webrtc.PeerConnection, error), streamID string) MuxerBackendFactory {
	return func() (MuxerBackend, error) {
		pc, err := acquire()
		if err != nil {
			return nil, err
		}
		return NewWebRTCBackend(pc, streamID), nil
	}
}

// Name implements MuxerBackend.
func (b *WebRTCBackend) Name() string { return "webrtc" }

// Open implements MuxerBackend.
func (b *WebRTCBackend) Open(ctx context.Context) error {
	if b.pc == nil {
		return fmt.Errorf("%w: nil peer connection", ErrInvalidState)
	}
	return nil
}

// AddVideoTrack implements MuxerBackend.
func (b *WebRTCBackend) AddVideoTrack(ctx context.Context, track MuxerVideoTrack) (int, error) {
	cap, err := webrtcCapability(track.Codec)
	if err != nil {
		return 0, err
	}
	rate := track.Framerate
	if rate <= 0 {
		rate = 30
	}
	return b.addTrack(cap, "video", rate)
}

// AddAudioTrack implements MuxerBackend.
func (b *WebRTCBackend) AddAudioTrack(ctx context.Context, track MuxerAudioTrack) (int, error) {
	cap, err := webrtcCapability(track.Codec)
	if err != nil {
		return 0, err
	}
	// Opus frames are 20 ms by convention; encode that as 50 "frames"/s.
	return b.addTrack(cap, "audio", 50)
}

func (b *WebRTCBackend) addTrack(cap webrtc.RTPCodecCapability, kind string, rate int) (int, error) {
	idx := len(b.tracks)
	local, err := webrtc.NewTrackLocalStaticSample(cap, fmt.Sprintf("%s-%d", kind, idx), b.streamID)
	if err != nil {
		return 0, err
	}
	if _, err := b.pc.AddTrack(local); err != nil {
		return 0, err
	}
	b.tracks = append(b.tracks, local)
	b.lastTS = append(b.lastTS, -1)
	b.rates = append(b.rates, rate)
	return idx, nil
}

// WriteVideoChunk implements MuxerBackend.
func (b *WebRTCBackend) WriteVideoChunk(ctx context.Context, track int, chunk *EncodedChunk) error {
	return b.writeSample(track, chunk)
}

// WriteAudioChunk implements MuxerBackend.
func (b *WebRTCBackend) WriteAudioChunk(ctx context.Context, track int, chunk *EncodedChunk) error {
	return b.writeSample(track, chunk)
}

func (b *WebRTCBackend) writeSample(track int, chunk *EncodedChunk) error {
	if track < 0 || track >= len(b.tracks) {
		return fmt.Errorf("unknown track %d", track)
	}

	// Sample duration drives the RTP timestamp advance. Prefer the
	// chunk's own duration, then the gap to the previous chunk, then the
	// track's nominal rate.
	var duration time.Duration
	switch {
	case chunk.Duration > 0:
		duration = time.Duration(chunk.Duration) * time.Microsecond
	case b.lastTS[track] >= 0 && chunk.Timestamp > b.lastTS[track]:
		duration = time.Duration(chunk.Timestamp-b.lastTS[track]) * time.Microsecond
	default:
		duration = time.Second / time.Duration(b.rates[track])
	}
	b.lastTS[track] = chunk.Timestamp

	return b.tracks[track].WriteSample(media.Sample{
		Data:     chunk.Bytes(),
		Duration: duration,
	})
}

// Close implements MuxerBackend. The peer connection is owned by the
// caller; only the tracks' association with this mux operation ends here.
func (b *WebRTCBackend) Close(ctx context.Context) error {
	b.tracks = nil
	b.lastTS = nil
	b.rates = nil
	return nil
}
