//go:build darwin || linux

// Native engine binding via libwebcodecs_engine using purego.

package webcodecs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	wcEngineOnce    sync.Once
	wcEngineHandle  uintptr
	wcEngineInitErr error
	wcEngineLoaded  bool
)

// libwebcodecs_engine function pointers
var (
	wcEngineCreate  func(direction, codec, width, height, framerate, sampleRate, channels, bitrate int32, extraData uintptr, extraLen int32) uint64
	wcEngineWrite   func(engine uint64, data uintptr, dataLen int32) int32
	wcEngineEnd     func(engine uint64) int32
	wcEnginePoll    func(engine uint64, outData uintptr, outCapacity int32, outMeta uintptr) int32
	wcEngineMaxOut  func(engine uint64) int32
	wcEngineDestroy func(engine uint64)

	wcEngineGetError  func() uintptr
	wcEngineAvailable func(direction, codec int32) int32
)

// Constants from webcodecs_engine.h
const (
	wcPollNone     = 0
	wcPollFrame    = 1
	wcPollAccepted = 2
	wcPollClosed   = 3

	wcOK           = 0
	wcError        = -1
	wcErrorNoMem   = -2
	wcErrorInvalid = -3
	wcErrorCodec   = -4
)

// wcCodecID maps the codec enums to the library's codec constants, shared
// with the process engine's wire numbering.
func wcCodecID(cfg EngineConfig) int32 {
	return int32(wcConfigCodecID(cfg))
}

// wcPollMeta is a heap-allocated struct for poll output parameters.
// It must be heap-allocated for purego to work correctly on arm64:
// local stack variables for output parameters can fail due to GC moving
// the stack during the C call.
type wcPollMeta struct {
	Length   int32 // frame payload bytes written to outData
	Keyframe int32
	Width    int32
	Height   int32
	Samples  int32
	Channels int32
}

func loadWCEngine() error {
	wcEngineOnce.Do(func() {
		wcEngineInitErr = loadWCEngineLib()
		if wcEngineInitErr == nil {
			wcEngineLoaded = true
		}
	})
	return wcEngineInitErr
}

func loadWCEngineLib() error {
	paths := getWCEngineLibPaths()

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			wcEngineHandle = handle
			loadWCEngineSymbols()
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libwebcodecs_engine: %w", lastErr)
	}
	return errors.New("libwebcodecs_engine not found in any standard location")
}

func getWCEngineLibPaths() []string {
	var paths []string

	libName := "libwebcodecs_engine.so"
	if runtime.GOOS == "darwin" {
		libName = "libwebcodecs_engine.dylib"
	}

	// Environment variable overrides (highest priority)
	if envPath := os.Getenv("WEBCODECS_ENGINE_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}

	// Search relative to executable location
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
			filepath.Join(exeDir, "..", "..", "build", libName),
		)
	}

	// Search relative to working directory
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths,
			filepath.Join(wd, "build", libName),
			filepath.Join(wd, "..", "build", libName),
			filepath.Join(wd, "..", "..", "build", libName),
		)
	}

	// Search relative to module root (find go.mod from cwd)
	if moduleRoot := findModuleRoot(); moduleRoot != "" {
		paths = append(paths,
			filepath.Join(moduleRoot, "build", libName),
		)
	}

	// System paths (lowest priority)
	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/opt/homebrew/lib/"+libName,
		)
	case "linux":
		paths = append(paths,
			libName,
			"/usr/local/lib/"+libName,
			"/usr/lib/"+libName,
		)
	}

	return paths
}

func loadWCEngineSymbols() {
	purego.RegisterLibFunc(&wcEngineCreate, wcEngineHandle, "wc_engine_create")
	purego.RegisterLibFunc(&wcEngineWrite, wcEngineHandle, "wc_engine_write")
	purego.RegisterLibFunc(&wcEngineEnd, wcEngineHandle, "wc_engine_end")
	purego.RegisterLibFunc(&wcEnginePoll, wcEngineHandle, "wc_engine_poll")
	purego.RegisterLibFunc(&wcEngineMaxOut, wcEngineHandle, "wc_engine_max_output_size")
	purego.RegisterLibFunc(&wcEngineDestroy, wcEngineHandle, "wc_engine_destroy")
	purego.RegisterLibFunc(&wcEngineGetError, wcEngineHandle, "wc_engine_get_error")
	purego.RegisterLibFunc(&wcEngineAvailable, wcEngineHandle, "wc_engine_available")
}

// IsNativeEngineAvailable checks if libwebcodecs_engine is available for
// the given configuration.
func IsNativeEngineAvailable(cfg EngineConfig) bool {
	if err := loadWCEngine(); err != nil {
		return false
	}
	return wcEngineAvailable(int32(cfg.Direction), wcCodecID(cfg)) != 0
}

func getWCEngineError() string {
	ptr := wcEngineGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// NativeEngine is an Engine backed by libwebcodecs_engine through purego.
// Output is pumped by a poll goroutine that converts the library's poll
// results into the tagged event stream.
type NativeEngine struct {
	mu      sync.Mutex
	handle  uint64
	healthy bool
	killed  bool

	events chan EngineEvent
	done   chan struct{}
}

// NewNativeEngine returns an unstarted native engine. NewNativeEngineFactory
// is the usual entry point.
func NewNativeEngine() *NativeEngine {
	return &NativeEngine{
		events: make(chan EngineEvent, 64),
		done:   make(chan struct{}),
	}
}

// NewNativeEngineFactory returns an EngineFactory producing native engines.
func NewNativeEngineFactory() EngineFactory {
	return func() Engine { return NewNativeEngine() }
}

// defaultEngineFactory prefers the native library, falling back to the
// helper process named by WEBCODECS_ENGINE_BIN.
func defaultEngineFactory() EngineFactory {
	if err := loadWCEngine(); err == nil {
		return NewNativeEngineFactory()
	}
	return processEngineFactoryFromEnv()
}

// Start implements Engine.
func (e *NativeEngine) Start(cfg EngineConfig) error {
	if err := loadWCEngine(); err != nil {
		return fmt.Errorf("native engine not available: %w", err)
	}
	codec := wcCodecID(cfg)
	if wcEngineAvailable(int32(cfg.Direction), codec) == 0 {
		return fmt.Errorf("%w: native engine has no %s support for this codec", ErrNotSupported, cfg.Direction)
	}

	var extraPtr uintptr
	if len(cfg.ExtraData) > 0 {
		extraPtr = uintptr(unsafe.Pointer(&cfg.ExtraData[0]))
	}
	handle := wcEngineCreate(
		int32(cfg.Direction), codec,
		int32(cfg.Width), int32(cfg.Height), int32(cfg.Framerate),
		int32(cfg.SampleRate), int32(cfg.Channels), int32(cfg.Bitrate),
		extraPtr, int32(len(cfg.ExtraData)),
	)
	runtime.KeepAlive(cfg.ExtraData)
	if handle == 0 {
		return fmt.Errorf("failed to create native engine: %s", getWCEngineError())
	}

	e.mu.Lock()
	e.handle = handle
	e.healthy = true
	e.mu.Unlock()

	maxOut := wcEngineMaxOut(handle)
	if maxOut <= 0 {
		maxOut = 1 << 20
	}
	go e.pollLoop(handle, int(maxOut))
	return nil
}

// Write implements Engine.
func (e *NativeEngine) Write(payload []byte) error {
	e.mu.Lock()
	handle, healthy := e.handle, e.healthy
	e.mu.Unlock()
	if handle == 0 || !healthy {
		return fmt.Errorf("%w: engine not running", ErrInvalidState)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedRecord)
	}

	rc := wcEngineWrite(handle, uintptr(unsafe.Pointer(&payload[0])), int32(len(payload)))
	runtime.KeepAlive(payload)
	if rc != wcOK {
		e.mu.Lock()
		e.healthy = false
		e.mu.Unlock()
		return fmt.Errorf("engine write failed: %s", getWCEngineError())
	}
	return nil
}

// End implements Engine.
func (e *NativeEngine) End() error {
	e.mu.Lock()
	handle := e.handle
	e.mu.Unlock()
	if handle == 0 {
		return fmt.Errorf("%w: engine not running", ErrInvalidState)
	}
	if rc := wcEngineEnd(handle); rc != wcOK {
		return fmt.Errorf("engine end failed: %s", getWCEngineError())
	}
	return nil
}

// Kill implements Engine.
func (e *NativeEngine) Kill() {
	e.mu.Lock()
	if e.killed {
		e.mu.Unlock()
		return
	}
	e.killed = true
	e.healthy = false
	handle := e.handle
	e.handle = 0
	e.mu.Unlock()

	close(e.done)
	if handle != 0 {
		wcEngineDestroy(handle)
	}
}

// Healthy implements Engine.
func (e *NativeEngine) Healthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthy
}

// Events implements Engine.
func (e *NativeEngine) Events() <-chan EngineEvent {
	return e.events
}

// pollLoop drains the library's poll interface into the event channel.
// Output frames are copied out of the library's buffer before the next
// poll overwrites it.
func (e *NativeEngine) pollLoop(handle uint64, maxOut int) {
	defer close(e.events)

	outBuf := make([]byte, maxOut)
	meta := &wcPollMeta{} // heap-allocated for purego arm64

	for {
		select {
		case <-e.done:
			return
		default:
		}

		rc := wcEnginePoll(
			handle,
			uintptr(unsafe.Pointer(&outBuf[0])),
			int32(len(outBuf)),
			uintptr(unsafe.Pointer(meta)),
		)
		runtime.KeepAlive(outBuf)
		runtime.KeepAlive(meta)

		switch rc {
		case wcPollNone:
			time.Sleep(time.Millisecond)
		case wcPollAccepted:
			e.emit(EngineAccepted{})
		case wcPollClosed:
			e.emit(EngineClosed{})
			return
		case wcPollFrame:
			n := int(meta.Length)
			if n < 0 {
				n = 0
			}
			if n > len(outBuf) {
				n = len(outBuf)
			}
			data := make([]byte, n)
			copy(data, outBuf[:n])
			e.emit(EngineFrame{
				Data:     data,
				Keyframe: meta.Keyframe != 0,
				Width:    int(meta.Width),
				Height:   int(meta.Height),
				Samples:  int(meta.Samples),
				Channels: int(meta.Channels),
			})
		default:
			e.mu.Lock()
			e.healthy = false
			e.mu.Unlock()
			e.emit(EngineError{Err: &EncodingError{Op: "poll", Err: errors.New(getWCEngineError())}})
			e.emit(EngineClosed{})
			return
		}
	}
}

func (e *NativeEngine) emit(ev EngineEvent) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}
