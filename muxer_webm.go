package webcodecs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/at-wat/ebml-go/webm"
)

// webmCodecID maps codec strings to Matroska codec IDs.
func webmCodecID(codec string) (string, error) {
	if vc := ParseVideoCodec(codec); vc != VideoCodecUnknown {
		switch vc {
		case VideoCodecH264:
			return "V_MPEG4/ISO/AVC", nil
		case VideoCodecH265:
			return "V_MPEGH/ISO/HEVC", nil
		case VideoCodecVP8:
			return "V_VP8", nil
		case VideoCodecVP9:
			return "V_VP9", nil
		case VideoCodecAV1:
			return "V_AV1", nil
		}
	}
	switch ParseAudioCodec(codec) {
	case AudioCodecAAC:
		return "A_AAC", nil
	case AudioCodecOpus:
		return "A_OPUS", nil
	}
	return "", fmt.Errorf("%w: no WebM codec ID for %q", ErrNotSupported, codec)
}

// WebMBackend writes tracks into a WebM container via ebml-go. The
// underlying block writers need every track up front, so the container is
// materialized lazily on the first chunk write, after all AddTrack calls.
type WebMBackend struct {
	w io.Writer

	open    bool
	entries []webm.TrackEntry
	writers []webm.BlockWriteCloser
}

// NewWebMBackend creates a backend writing the container to w.
func NewWebMBackend(w io.Writer) *WebMBackend {
	return &WebMBackend{w: w}
}

// NewWebMBackendFactory adapts NewWebMBackend to the factory contract.
// Each acquisition gets a fresh writer from acquire, so fallback replay
// starts a clean container.
func NewWebMBackendFactory(acquire func() (io.Writer, error)) MuxerBackendFactory {
	return func() (MuxerBackend, error) {
		w, err := acquire()
		if err != nil {
			return nil, err
		}
		return NewWebMBackend(w), nil
	}
}

// Name implements MuxerBackend.
func (b *WebMBackend) Name() string { return "webm" }

// Open implements MuxerBackend.
func (b *WebMBackend) Open(ctx context.Context) error {
	if b.open {
		return errors.New("already open")
	}
	b.open = true
	return nil
}

// AddVideoTrack implements MuxerBackend.
func (b *WebMBackend) AddVideoTrack(ctx context.Context, track MuxerVideoTrack) (int, error) {
	if !b.open || b.writers != nil {
		return 0, errors.New("track registration after first write")
	}
	codecID, err := webmCodecID(track.Codec)
	if err != nil {
		return 0, err
	}
	defaultDuration := uint64(0)
	if track.Framerate > 0 {
		defaultDuration = uint64(1_000_000_000 / track.Framerate)
	}
	idx := len(b.entries)
	b.entries = append(b.entries, webm.TrackEntry{
		Name:            fmt.Sprintf("Video %d", idx),
		TrackNumber:     uint64(idx + 1),
		TrackUID:        uint64(idx + 1),
		CodecID:         codecID,
		CodecPrivate:    track.Description,
		TrackType:       1,
		DefaultDuration: defaultDuration,
		Video: &webm.Video{
			PixelWidth:  uint64(track.Width),
			PixelHeight: uint64(track.Height),
		},
	})
	return idx, nil
}

// AddAudioTrack implements MuxerBackend.
func (b *WebMBackend) AddAudioTrack(ctx context.Context, track MuxerAudioTrack) (int, error) {
	if !b.open || b.writers != nil {
		return 0, errors.New("track registration after first write")
	}
	codecID, err := webmCodecID(track.Codec)
	if err != nil {
		return 0, err
	}
	idx := len(b.entries)
	b.entries = append(b.entries, webm.TrackEntry{
		Name:         fmt.Sprintf("Audio %d", idx),
		TrackNumber:  uint64(idx + 1),
		TrackUID:     uint64(idx + 1),
		CodecID:      codecID,
		CodecPrivate: track.Description,
		TrackType:    2,
		Audio: &webm.Audio{
			SamplingFrequency: float64(track.SampleRate),
			Channels:          uint64(track.Channels),
		},
	})
	return idx, nil
}

// WriteVideoChunk implements MuxerBackend.
func (b *WebMBackend) WriteVideoChunk(ctx context.Context, track int, chunk *EncodedChunk) error {
	return b.writeBlock(track, chunk)
}

// WriteAudioChunk implements MuxerBackend.
func (b *WebMBackend) WriteAudioChunk(ctx context.Context, track int, chunk *EncodedChunk) error {
	return b.writeBlock(track, chunk)
}

func (b *WebMBackend) writeBlock(track int, chunk *EncodedChunk) error {
	if !b.open {
		return errors.New("not open")
	}
	if b.writers == nil {
		if err := b.materialize(); err != nil {
			return err
		}
	}
	if track < 0 || track >= len(b.writers) {
		return fmt.Errorf("unknown track %d", track)
	}
	// Chunk timestamps are microseconds; Matroska wants milliseconds.
	_, err := b.writers[track].Write(chunk.Type == ChunkTypeKey, chunk.Timestamp/1000, chunk.Bytes())
	return err
}

func (b *WebMBackend) materialize() error {
	if len(b.entries) == 0 {
		return errors.New("no tracks registered")
	}
	writers, err := webm.NewSimpleBlockWriter(nopWriteCloser{b.w}, b.entries)
	if err != nil {
		return err
	}
	b.writers = make([]webm.BlockWriteCloser, len(writers))
	copy(b.writers, writers)
	return nil
}

// Close implements MuxerBackend.
func (b *WebMBackend) Close(ctx context.Context) error {
	b.open = false
	var firstErr error
	for _, w := range b.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.writers = nil
	return firstErr
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
