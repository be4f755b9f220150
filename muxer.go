package webcodecs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// MuxerVideoTrack configures one video track on a muxer backend.
type MuxerVideoTrack struct {
	Codec       string
	Width       int
	Height      int
	Framerate   int
	Description []byte // AVCC/HVCC record, when the container wants it
}

// MuxerAudioTrack configures one audio track on a muxer backend.
type MuxerAudioTrack struct {
	Codec       string
	SampleRate  int
	Channels    int
	Description []byte // AudioSpecificConfig, when the container wants it
}

// MuxerBackend is one concrete container or transport sink. Every method
// can fail; failures are tagged with the backend name and operation by the
// orchestrator. Backends are exclusively owned by one Muxer for the
// duration of one mux operation.
type MuxerBackend interface {
	Name() string
	Open(ctx context.Context) error
	AddVideoTrack(ctx context.Context, track MuxerVideoTrack) (int, error)
	AddAudioTrack(ctx context.Context, track MuxerAudioTrack) (int, error)
	WriteVideoChunk(ctx context.Context, track int, chunk *EncodedChunk) error
	WriteAudioChunk(ctx context.Context, track int, chunk *EncodedChunk) error
	Close(ctx context.Context) error
}

// MuxerBackendFactory acquires a fresh backend instance. Fallback uses a
// fresh acquisition, never a shared handle.
type MuxerBackendFactory func() (MuxerBackend, error)

// MuxResult reports the outcome of a completed mux operation.
type MuxResult struct {
	Backend string
	Elapsed time.Duration
}

// journaled operation kinds
const (
	muxOpVideoTrack = iota
	muxOpAudioTrack
	muxOpVideoChunk
	muxOpAudioChunk
)

type muxOp struct {
	kind  int
	video MuxerVideoTrack
	audio MuxerAudioTrack
	track int
	chunk *EncodedChunk
}

// Muxer sequences track registration and chunk writes against a primary
// backend, transparently restarting the whole sequence against a
// secondary backend on failure — but only while no chunk has been
// committed. Track registrations and chunks accepted so far are replayed
// against the fallback from scratch. Once a chunk has been written
// successfully, fallback is off the table: a later failure surfaces the
// backend and operation that failed.
type Muxer struct {
	primary   MuxerBackendFactory
	secondary MuxerBackendFactory
	diag      Diagnostics

	mu        sync.Mutex
	backend   MuxerBackend
	journal   []muxOp
	committed bool
	fellBack  bool
	started   time.Time
}

// NewMuxer creates an orchestrator over a primary and an optional
// secondary backend factory.
func NewMuxer(primary, secondary MuxerBackendFactory, diag Diagnostics) *Muxer {
	return &Muxer{primary: primary, secondary: secondary, diag: diag}
}

// Open acquires and opens the primary backend, falling back immediately
// if that fails.
func (m *Muxer) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend != nil {
		return fmt.Errorf("%w: muxer already open", ErrInvalidState)
	}
	m.started = time.Now()

	backend, err := m.primary()
	if err == nil {
		err = backend.Open(ctx)
		if err != nil {
			err = &MuxerError{Backend: backend.Name(), Op: "open", Err: err}
		}
	} else {
		err = &MuxerError{Backend: "primary", Op: "acquire", Err: err}
	}
	if err != nil {
		return m.fallbackLocked(ctx, err.(*MuxerError))
	}
	m.backend = backend
	return nil
}

// AddVideoTrack registers a video track and returns its index. Indices
// are assigned in registration order and survive fallback replay.
func (m *Muxer) AddVideoTrack(ctx context.Context, track MuxerVideoTrack) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend == nil {
		return 0, fmt.Errorf("%w: muxer not open", ErrInvalidState)
	}

	idx, err := m.backend.AddVideoTrack(ctx, track)
	if err != nil {
		tagged := &MuxerError{Backend: m.backend.Name(), Op: "addVideoTrack", Err: err}
		op := muxOp{kind: muxOpVideoTrack, video: track, track: m.nextTrackIndex()}
		if ferr := m.fallbackReplayLocked(ctx, tagged, op); ferr != nil {
			return 0, ferr
		}
		idx = op.track
	}
	if !m.committed {
		m.journal = append(m.journal, muxOp{kind: muxOpVideoTrack, video: track, track: idx})
	}
	return idx, nil
}

// AddAudioTrack registers an audio track and returns its index.
func (m *Muxer) AddAudioTrack(ctx context.Context, track MuxerAudioTrack) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend == nil {
		return 0, fmt.Errorf("%w: muxer not open", ErrInvalidState)
	}

	idx, err := m.backend.AddAudioTrack(ctx, track)
	if err != nil {
		tagged := &MuxerError{Backend: m.backend.Name(), Op: "addAudioTrack", Err: err}
		op := muxOp{kind: muxOpAudioTrack, audio: track, track: m.nextTrackIndex()}
		if ferr := m.fallbackReplayLocked(ctx, tagged, op); ferr != nil {
			return 0, ferr
		}
		idx = op.track
	}
	if !m.committed {
		m.journal = append(m.journal, muxOp{kind: muxOpAudioTrack, audio: track, track: idx})
	}
	return idx, nil
}

// WriteVideoChunk writes one encoded video chunk to a registered track.
// The first successful write commits the backend choice.
func (m *Muxer) WriteVideoChunk(ctx context.Context, track int, chunk *EncodedChunk) error {
	return m.writeChunk(ctx, muxOpVideoChunk, "writeVideoChunk", track, chunk)
}

// WriteAudioChunk writes one encoded audio chunk to a registered track.
func (m *Muxer) WriteAudioChunk(ctx context.Context, track int, chunk *EncodedChunk) error {
	return m.writeChunk(ctx, muxOpAudioChunk, "writeAudioChunk", track, chunk)
}

func (m *Muxer) writeChunk(ctx context.Context, kind int, opName string, track int, chunk *EncodedChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend == nil {
		return fmt.Errorf("%w: muxer not open", ErrInvalidState)
	}

	err := m.applyChunkLocked(ctx, m.backend, kind, track, chunk)
	if err != nil {
		tagged := &MuxerError{Backend: m.backend.Name(), Op: opName, Err: err}
		op := muxOp{kind: kind, track: track, chunk: chunk}
		if ferr := m.fallbackReplayLocked(ctx, tagged, op); ferr != nil {
			return ferr
		}
	}
	// A chunk reached a backend: fallback is no longer possible and the
	// journal has served its purpose.
	m.committed = true
	m.journal = nil
	return nil
}

// Close finalizes the backend and reports which backend won and how long
// the whole operation took.
func (m *Muxer) Close(ctx context.Context) (MuxResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backend == nil {
		return MuxResult{}, fmt.Errorf("%w: muxer not open", ErrInvalidState)
	}

	if err := m.backend.Close(ctx); err != nil {
		tagged := &MuxerError{Backend: m.backend.Name(), Op: "close", Err: err}
		if ferr := m.fallbackReplayLocked(ctx, tagged); ferr != nil {
			return MuxResult{}, ferr
		}
		// Fallback replayed the pre-commit state; finalize it too.
		if err := m.backend.Close(ctx); err != nil {
			return MuxResult{}, &MuxerError{Backend: m.backend.Name(), Op: "close", Err: err}
		}
	}

	res := MuxResult{Backend: m.backend.Name(), Elapsed: time.Since(m.started)}
	m.diag.logger().Info("mux complete", "backend", res.Backend, "elapsed", res.Elapsed)
	m.backend = nil
	return res, nil
}

func (m *Muxer) nextTrackIndex() int {
	n := 0
	for _, op := range m.journal {
		if op.kind == muxOpVideoTrack || op.kind == muxOpAudioTrack {
			n++
		}
	}
	return n
}

// fallbackReplayLocked switches to the secondary backend and replays the
// journal plus the operation that just failed. Returns nil when the
// fallback fully caught up; otherwise a composite error naming both
// backends' failures.
func (m *Muxer) fallbackReplayLocked(ctx context.Context, cause *MuxerError, pending ...muxOp) error {
	if err := m.fallbackLocked(ctx, cause); err != nil {
		return err
	}
	for _, op := range pending {
		if err := m.replayOpLocked(ctx, m.backend, op); err != nil {
			return multierror.Append(cause, err)
		}
	}
	return nil
}

// fallbackLocked acquires, opens and catches up the secondary backend.
// Refused after the first committed chunk or a previous fallback.
func (m *Muxer) fallbackLocked(ctx context.Context, cause *MuxerError) error {
	if m.committed || m.fellBack || m.secondary == nil {
		return cause
	}
	m.fellBack = true

	m.diag.logger().Warn("muxer backend failed, falling back",
		"backend", cause.Backend, "op", cause.Op, "err", cause.Err)

	if old := m.backend; old != nil {
		if err := old.Close(ctx); err != nil {
			m.diag.logger().Warn("closing failed backend", "backend", old.Name(), "err", err)
		}
		m.backend = nil
	}

	backend, err := m.secondary()
	if err != nil {
		return multierror.Append(cause, &MuxerError{Backend: "secondary", Op: "acquire", Err: err})
	}
	if err := backend.Open(ctx); err != nil {
		return multierror.Append(cause, &MuxerError{Backend: backend.Name(), Op: "open", Err: err})
	}
	for _, op := range m.journal {
		if err := m.replayOpLocked(ctx, backend, op); err != nil {
			return multierror.Append(cause, err)
		}
	}
	m.backend = backend
	return nil
}

func (m *Muxer) replayOpLocked(ctx context.Context, backend MuxerBackend, op muxOp) error {
	switch op.kind {
	case muxOpVideoTrack:
		idx, err := backend.AddVideoTrack(ctx, op.video)
		if err != nil {
			return &MuxerError{Backend: backend.Name(), Op: "addVideoTrack", Err: err}
		}
		if idx != op.track {
			return &MuxerError{Backend: backend.Name(), Op: "addVideoTrack",
				Err: fmt.Errorf("replay track index %d, want %d", idx, op.track)}
		}
	case muxOpAudioTrack:
		idx, err := backend.AddAudioTrack(ctx, op.audio)
		if err != nil {
			return &MuxerError{Backend: backend.Name(), Op: "addAudioTrack", Err: err}
		}
		if idx != op.track {
			return &MuxerError{Backend: backend.Name(), Op: "addAudioTrack",
				Err: fmt.Errorf("replay track index %d, want %d", idx, op.track)}
		}
	case muxOpVideoChunk:
		if err := backend.WriteVideoChunk(ctx, op.track, op.chunk); err != nil {
			return &MuxerError{Backend: backend.Name(), Op: "writeVideoChunk", Err: err}
		}
	case muxOpAudioChunk:
		if err := backend.WriteAudioChunk(ctx, op.track, op.chunk); err != nil {
			return &MuxerError{Backend: backend.Name(), Op: "writeAudioChunk", Err: err}
		}
	}
	return nil
}

func (m *Muxer) applyChunkLocked(ctx context.Context, backend MuxerBackend, kind, track int, chunk *EncodedChunk) error {
	if kind == muxOpVideoChunk {
		return backend.WriteVideoChunk(ctx, track, chunk)
	}
	return backend.WriteAudioChunk(ctx, track, chunk)
}
