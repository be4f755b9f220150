package webcodecs

// EngineDirection selects which way an engine instance transforms media.
type EngineDirection int

const (
	EngineDecode EngineDirection = iota
	EngineEncode
)

func (d EngineDirection) String() string {
	switch d {
	case EngineDecode:
		return "decode"
	case EngineEncode:
		return "encode"
	default:
		return "unknown"
	}
}

// EngineConfig binds one engine instance to one stream.
type EngineConfig struct {
	Direction EngineDirection

	VideoCodec VideoCodec
	AudioCodec AudioCodec

	// Video
	Width     int
	Height    int
	Framerate int
	Bitrate   int // bits per second, encode only

	// Audio
	SampleRate int
	Channels   int

	// ExtraData is out-of-band codec configuration in the representation
	// the engine expects (Annex-B parameter sets, AudioSpecificConfig).
	ExtraData []byte
}

// Engine is the external encode/decode collaborator. One pipeline owns one
// engine instance at a time; Configure tears down and replaces it.
//
// All output flows through Events as a sequence of tagged events consumed
// by a single dispatch loop. The channel is closed after EngineClosed.
type Engine interface {
	// Start binds the engine to a configuration. Must be called once,
	// before the first Write.
	Start(cfg EngineConfig) error

	// Write submits one unit of input (one sample, frame, or raw buffer)
	// in the engine's expected representation. The engine acknowledges
	// acceptance asynchronously with an EngineAccepted event.
	Write(payload []byte) error

	// End signals end-of-stream. The engine drains, emits any remaining
	// EngineFrame events, then EngineClosed.
	End() error

	// Kill tears the engine down immediately, discarding pending work.
	// Events is closed shortly after. Safe to call more than once.
	Kill()

	// Healthy reports whether the engine can still accept input.
	Healthy() bool

	// Events returns the engine's event stream.
	Events() <-chan EngineEvent
}

// EngineEvent is the closed set of notifications an engine emits.
type EngineEvent interface {
	isEngineEvent()
}

// EngineFrame carries one unit of engine output: decoded raw media or an
// encoded bitstream fragment, plus whatever metadata the engine knows.
type EngineFrame struct {
	Data     []byte
	Keyframe bool

	// Release is non-nil when Data borrows engine-owned memory; the
	// consumer must arrange for it to be called exactly once.
	Release func()

	// Decoded raw media geometry, zero when not applicable.
	Width    int
	Height   int
	Samples  int // audio samples per channel in this frame
	Channels int
}

func (EngineFrame) isEngineEvent() {}

// EngineAccepted acknowledges that one previously written input unit has
// been consumed. It drives queue-depth accounting and is decoupled from
// the number of EngineFrame events the input produces.
type EngineAccepted struct{}

func (EngineAccepted) isEngineEvent() {}

// EngineError reports a processing failure. The engine may or may not
// remain healthy afterwards; Healthy is authoritative.
type EngineError struct {
	Err error
}

func (EngineError) isEngineEvent() {}

// EngineClosed is the final event: the engine has fully drained (after
// End) or torn down (after Kill or a fatal error).
type EngineClosed struct{}

func (EngineClosed) isEngineEvent() {}

// EngineFactory creates one engine instance per Configure call.
type EngineFactory func() Engine
