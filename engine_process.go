package webcodecs

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// Process engine wire protocol, both directions: a 1-byte tag followed by
// a 4-byte big-endian payload length and that many payload bytes.
//
// To the engine:   's' start (config), 'w' write (one input unit), 'e' end.
// From the engine: 'f' frame, 'a' accepted, 'r' error (UTF-8 message),
//                  'c' closed.
//
// Frame payloads carry a 17-byte metadata prefix before the media bytes:
// keyframe(1), width(4), height(4), samples(4), channels(4), big-endian.
const (
	procTagStart    = 's'
	procTagWrite    = 'w'
	procTagEnd      = 'e'
	procTagFrame    = 'f'
	procTagAccepted = 'a'
	procTagError    = 'r'
	procTagClosed   = 'c'

	procFrameMetaLen = 17
)

// ProcessEngine is an Engine backed by an external helper process speaking
// the length-prefixed stdio protocol. It is the portable fallback when the
// native library is not present.
type ProcessEngine struct {
	path string
	args []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	healthy bool
	killed  bool

	events chan EngineEvent
	done   chan struct{}
}

// NewProcessEngine returns an unstarted process engine that will spawn the
// given helper binary.
func NewProcessEngine(path string, args ...string) *ProcessEngine {
	return &ProcessEngine{
		path:   path,
		args:   args,
		events: make(chan EngineEvent, 64),
		done:   make(chan struct{}),
	}
}

// NewProcessEngineFactory returns an EngineFactory spawning the given
// helper binary per engine instance.
func NewProcessEngineFactory(path string, args ...string) EngineFactory {
	return func() Engine { return NewProcessEngine(path, args...) }
}

// processEngineFactoryFromEnv spawns the helper binary named by the
// WEBCODECS_ENGINE_BIN environment variable, defaulting to a
// webcodecs-engine binary on PATH.
func processEngineFactoryFromEnv() EngineFactory {
	path := os.Getenv("WEBCODECS_ENGINE_BIN")
	if path == "" {
		path = "webcodecs-engine"
	}
	return NewProcessEngineFactory(path)
}

// Start implements Engine. The configuration is serialized as the start
// message payload.
func (e *ProcessEngine) Start(cfg EngineConfig) error {
	cmd := exec.Command(e.path, e.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("process engine stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("process engine stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting process engine %s: %w", e.path, err)
	}

	e.mu.Lock()
	e.cmd = cmd
	e.stdin = stdin
	e.healthy = true
	e.mu.Unlock()

	if err := writeProcMessage(stdin, procTagStart, marshalEngineConfig(cfg)); err != nil {
		e.Kill()
		return fmt.Errorf("process engine start message: %w", err)
	}

	go e.readLoop(stdout)
	return nil
}

// Write implements Engine.
func (e *ProcessEngine) Write(payload []byte) error {
	e.mu.Lock()
	stdin, healthy := e.stdin, e.healthy
	e.mu.Unlock()
	if stdin == nil || !healthy {
		return fmt.Errorf("%w: engine not running", ErrInvalidState)
	}
	if err := writeProcMessage(stdin, procTagWrite, payload); err != nil {
		e.mu.Lock()
		e.healthy = false
		e.mu.Unlock()
		return fmt.Errorf("engine write failed: %w", err)
	}
	return nil
}

// End implements Engine.
func (e *ProcessEngine) End() error {
	e.mu.Lock()
	stdin := e.stdin
	e.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("%w: engine not running", ErrInvalidState)
	}
	if err := writeProcMessage(stdin, procTagEnd, nil); err != nil {
		return fmt.Errorf("engine end failed: %w", err)
	}
	return nil
}

// Kill implements Engine.
func (e *ProcessEngine) Kill() {
	e.mu.Lock()
	if e.killed {
		e.mu.Unlock()
		return
	}
	e.killed = true
	e.healthy = false
	stdin, cmd := e.stdin, e.cmd
	e.stdin, e.cmd = nil, nil
	e.mu.Unlock()

	close(e.done)
	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		cmd.Wait()
	}
}

// Healthy implements Engine.
func (e *ProcessEngine) Healthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthy
}

// Events implements Engine.
func (e *ProcessEngine) Events() <-chan EngineEvent {
	return e.events
}

func (e *ProcessEngine) readLoop(stdout io.Reader) {
	defer close(e.events)

	r := bufio.NewReader(stdout)
	for {
		tag, payload, err := readProcMessage(r)
		if err != nil {
			e.mu.Lock()
			stillHealthy := e.healthy
			e.healthy = false
			e.mu.Unlock()
			if stillHealthy && !errors.Is(err, io.EOF) {
				e.emit(EngineError{Err: &EncodingError{Op: "read", Err: err}})
			}
			e.emit(EngineClosed{})
			return
		}

		switch tag {
		case procTagFrame:
			if len(payload) < procFrameMetaLen {
				e.emit(EngineError{Err: &EncodingError{Op: "read", Err: fmt.Errorf("%w: frame metadata truncated", ErrMalformedRecord)}})
				continue
			}
			e.emit(EngineFrame{
				Data:     payload[procFrameMetaLen:],
				Keyframe: payload[0] != 0,
				Width:    int(binary.BigEndian.Uint32(payload[1:])),
				Height:   int(binary.BigEndian.Uint32(payload[5:])),
				Samples:  int(binary.BigEndian.Uint32(payload[9:])),
				Channels: int(binary.BigEndian.Uint32(payload[13:])),
			})
		case procTagAccepted:
			e.emit(EngineAccepted{})
		case procTagError:
			e.emit(EngineError{Err: &EncodingError{Op: "process", Err: errors.New(string(payload))}})
		case procTagClosed:
			e.emit(EngineClosed{})
			return
		}
	}
}

func (e *ProcessEngine) emit(ev EngineEvent) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

func writeProcMessage(w io.Writer, tag byte, payload []byte) error {
	hdr := [5]byte{tag}
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

func readProcMessage(r *bufio.Reader) (byte, []byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	size := binary.BigEndian.Uint32(hdr[1:])
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return hdr[0], payload, nil
}

// marshalEngineConfig serializes a config as the start message payload:
// direction(1), codec(1), then eight big-endian uint32 numeric fields,
// then the extra data.
func marshalEngineConfig(cfg EngineConfig) []byte {
	buf := make([]byte, 0, 26+len(cfg.ExtraData))
	buf = append(buf, byte(cfg.Direction), byte(wcConfigCodecID(cfg)))
	for _, v := range [...]int{
		cfg.Width, cfg.Height, cfg.Framerate, cfg.Bitrate,
		cfg.SampleRate, cfg.Channels,
	} {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(v))
		buf = append(buf, b[:]...)
	}
	return append(buf, cfg.ExtraData...)
}

// wcConfigCodecID mirrors the native library's codec numbering so both
// engine flavors agree on the wire.
func wcConfigCodecID(cfg EngineConfig) int {
	switch {
	case cfg.VideoCodec != VideoCodecUnknown:
		switch cfg.VideoCodec {
		case VideoCodecH264:
			return 1
		case VideoCodecH265:
			return 2
		case VideoCodecVP8:
			return 3
		case VideoCodecVP9:
			return 4
		case VideoCodecAV1:
			return 5
		}
	case cfg.AudioCodec != AudioCodecUnknown:
		switch cfg.AudioCodec {
		case AudioCodecAAC:
			return 16
		case AudioCodecOpus:
			return 17
		}
	}
	return 0
}
