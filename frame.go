package webcodecs

import (
	"fmt"
	"io"
	"sync"
)

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420   PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12                      // YUV 4:2:0 semi-planar (Y + interleaved UV)
	PixelFormatRGBA32                    // Packed RGBA, 4 bytes per pixel
	PixelFormatBGRA32                    // Packed BGRA, 4 bytes per pixel
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatRGBA32:
		return "RGBA"
	case PixelFormatBGRA32:
		return "BGRA"
	default:
		return "Unknown"
	}
}

// BytesPerFrame returns the buffer size for one frame of the given
// dimensions, or 0 for unknown formats.
func (p PixelFormat) BytesPerFrame(width, height int) int {
	switch p {
	case PixelFormatI420, PixelFormatNV12:
		return width*height + (width/2)*(height/2)*2
	case PixelFormatRGBA32, PixelFormatBGRA32:
		return width * height * 4
	default:
		return 0
	}
}

// AudioFormat represents audio sample formats.
type AudioFormat int

const (
	AudioFormatS16 AudioFormat = iota // signed 16-bit PCM, interleaved
	AudioFormatF32                    // 32-bit float, interleaved
)

func (a AudioFormat) String() string {
	switch a {
	case AudioFormatS16:
		return "S16"
	case AudioFormatF32:
		return "F32"
	default:
		return "Unknown"
	}
}

// BytesPerSample returns the number of bytes per sample for this format.
func (a AudioFormat) BytesPerSample() int {
	switch a {
	case AudioFormatS16:
		return 2
	case AudioFormatF32:
		return 4
	default:
		return 0
	}
}

// FrameSource is the closed set of places frame bytes can come from.
// Classification happens once, when a frame is constructed; the rest of
// the package never inspects source variants again.
type FrameSource interface {
	isFrameSource()
}

// RawBytes is frame data owned by the caller. The frame makes no copy;
// the caller must keep the slice valid until the frame is closed.
type RawBytes []byte

func (RawBytes) isFrameSource() {}

// BorrowedBuffer is frame data owned by the external engine. Release is
// the single-use ownership token: the frame invokes it exactly once, when
// closed, returning the buffer to the engine. After that the data is gone;
// the frame guards against use-after-release and double-release by
// returning ErrFrameClosed.
type BorrowedBuffer struct {
	Data    []byte
	Release func()
}

func (*BorrowedBuffer) isFrameSource() {}

// StreamSource is frame data read from a stream. The reader is drained
// once at construction.
type StreamSource struct {
	R io.Reader
}

func (*StreamSource) isFrameSource() {}

// frameBuffer is the post-classification state shared by VideoFrame and
// AudioData.
type frameBuffer struct {
	mu      sync.Mutex
	data    []byte
	release func() // nil unless borrowed
	closed  bool
}

func newFrameBuffer(src FrameSource) (*frameBuffer, error) {
	switch s := src.(type) {
	case RawBytes:
		return &frameBuffer{data: s}, nil
	case *BorrowedBuffer:
		return &frameBuffer{data: s.Data, release: s.Release}, nil
	case *StreamSource:
		data, err := io.ReadAll(s.R)
		if err != nil {
			return nil, fmt.Errorf("webcodecs: reading stream source: %w", err)
		}
		return &frameBuffer{data: data}, nil
	default:
		return nil, fmt.Errorf("%w: unknown frame source %T", ErrNotSupported, src)
	}
}

func (b *frameBuffer) bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrFrameClosed
	}
	return b.data, nil
}

func (b *frameBuffer) copyTo(dst []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrFrameClosed
	}
	if len(dst) < len(b.data) {
		return 0, ErrBufferTooSmall
	}
	return copy(dst, b.data), nil
}

func (b *frameBuffer) close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrFrameClosed
	}
	b.closed = true
	if b.release != nil {
		release := b.release
		b.release = nil
		release()
	}
	b.data = nil
	return nil
}

// VideoFrame is a raw decoded or to-be-encoded video frame. Frames
// backed by a BorrowedBuffer hold engine memory and must be closed by the
// consumer; Close releases the borrow exactly once.
type VideoFrame struct {
	Format    PixelFormat
	Width     int
	Height    int
	Timestamp int64 // microseconds
	Duration  int64 // microseconds, 0 = unknown

	buf *frameBuffer
}

// NewVideoFrame classifies src and wraps it in a frame.
func NewVideoFrame(format PixelFormat, width, height int, timestamp int64, src FrameSource) (*VideoFrame, error) {
	buf, err := newFrameBuffer(src)
	if err != nil {
		return nil, err
	}
	return &VideoFrame{
		Format:    format,
		Width:     width,
		Height:    height,
		Timestamp: timestamp,
		buf:       buf,
	}, nil
}

// Bytes returns the frame data. Fails with ErrFrameClosed after Close.
// The returned slice must not be modified and is invalid after Close.
func (f *VideoFrame) Bytes() ([]byte, error) {
	return f.buf.bytes()
}

// AllocationSize returns the buffer size CopyTo requires.
func (f *VideoFrame) AllocationSize() int {
	data, err := f.buf.bytes()
	if err != nil {
		return 0
	}
	return len(data)
}

// CopyTo copies the frame data into dst. Fails with ErrBufferTooSmall if
// dst is too short, or ErrFrameClosed after Close.
func (f *VideoFrame) CopyTo(dst []byte) (int, error) {
	return f.buf.copyTo(dst)
}

// Clone deep-copies the frame into caller-owned memory. The clone is
// independent of the original's lifetime.
func (f *VideoFrame) Clone() (*VideoFrame, error) {
	data, err := f.buf.bytes()
	if err != nil {
		return nil, err
	}
	d := make([]byte, len(data))
	copy(d, data)
	return &VideoFrame{
		Format:    f.Format,
		Width:     f.Width,
		Height:    f.Height,
		Timestamp: f.Timestamp,
		Duration:  f.Duration,
		buf:       &frameBuffer{data: d},
	}, nil
}

// Close invalidates the frame and, for borrowed engine buffers, triggers
// the single-use release. A second Close fails with ErrFrameClosed.
func (f *VideoFrame) Close() error {
	return f.buf.close()
}

// AudioData is a block of raw decoded or to-be-encoded audio samples.
type AudioData struct {
	Format     AudioFormat
	SampleRate int
	Channels   int
	Frames     int   // samples per channel
	Timestamp  int64 // microseconds

	buf *frameBuffer
}

// NewAudioData classifies src and wraps it.
func NewAudioData(format AudioFormat, sampleRate, channels, frames int, timestamp int64, src FrameSource) (*AudioData, error) {
	buf, err := newFrameBuffer(src)
	if err != nil {
		return nil, err
	}
	return &AudioData{
		Format:     format,
		SampleRate: sampleRate,
		Channels:   channels,
		Frames:     frames,
		Timestamp:  timestamp,
		buf:        buf,
	}, nil
}

// Bytes returns the sample data. Fails with ErrFrameClosed after Close.
func (a *AudioData) Bytes() ([]byte, error) {
	return a.buf.bytes()
}

// CopyTo copies the sample data into dst.
func (a *AudioData) CopyTo(dst []byte) (int, error) {
	return a.buf.copyTo(dst)
}

// Clone deep-copies the samples into caller-owned memory.
func (a *AudioData) Clone() (*AudioData, error) {
	data, err := a.buf.bytes()
	if err != nil {
		return nil, err
	}
	d := make([]byte, len(data))
	copy(d, data)
	return &AudioData{
		Format:     a.Format,
		SampleRate: a.SampleRate,
		Channels:   a.Channels,
		Frames:     a.Frames,
		Timestamp:  a.Timestamp,
		buf:        &frameBuffer{data: d},
	}, nil
}

// Close invalidates the data and releases a borrowed engine buffer. A
// second Close fails with ErrFrameClosed.
func (a *AudioData) Close() error {
	return a.buf.close()
}
