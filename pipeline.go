package webcodecs

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is the pipeline lifecycle state.
type State int

const (
	StateUnconfigured State = iota
	StateConfigured
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultQueueCeiling bounds submitted-but-unacknowledged items per
// pipeline, so an unresponsive engine cannot grow memory without bound.
const DefaultQueueCeiling = 100

// flushOp is the shared pending operation returned to every caller that
// flushes while a flush is already in flight. err is written once, before
// done is closed.
type flushOp struct {
	done chan struct{}
	err  error
}

// pipeline is the engine-facing core shared by VideoDecoder, AudioDecoder,
// VideoEncoder and AudioEncoder. The faces translate between public media
// types and raw engine payloads; the pipeline owns lifecycle state, queue
// depth, flush semantics and the engine event dispatch loop.
//
// All state is guarded by mu. Engine calls and user callbacks happen
// outside the lock; any mutation that spans such a call re-validates state
// on resume via the generation counter.
type pipeline struct {
	name    string
	diag    Diagnostics
	factory EngineFactory
	ceiling int

	frameCB func(EngineFrame)
	errorCB func(error)

	mu           sync.Mutex
	state        State
	cfg          EngineConfig
	engine       Engine
	generation   uint64
	queueDepth   int
	frameIndex   uint64
	pendingFlush *flushOp
}

func newPipeline(name string, factory EngineFactory, ceiling int, diag Diagnostics, frameCB func(EngineFrame), errorCB func(error)) *pipeline {
	if ceiling <= 0 {
		ceiling = DefaultQueueCeiling
	}
	return &pipeline{
		name:    name,
		diag:    diag,
		factory: factory,
		ceiling: ceiling,
		frameCB: frameCB,
		errorCB: errorCB,
	}
}

func (p *pipeline) currentState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// queueSize returns the current queue depth. Always >= 0 and never above
// the ceiling.
func (p *pipeline) queueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queueDepth
}

// configure tears down any running engine and starts a fresh one bound to
// cfg. Permitted while already configured; the replacement is atomic from
// the caller's perspective.
func (p *pipeline) configure(cfg EngineConfig) error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return fmt.Errorf("%w: configure on closed %s", ErrInvalidState, p.name)
	}

	canceled := p.teardownLocked(fmt.Errorf("%w: flush canceled by configure", ErrInvalidState))
	p.cfg = cfg
	p.queueDepth = 0
	p.frameIndex = 0

	err := p.startEngineLocked()
	if err != nil {
		p.state = StateUnconfigured
	} else {
		p.state = StateConfigured
	}
	p.mu.Unlock()

	resolveFlush(canceled)
	return err
}

// submit forwards one input unit to the engine, applying the queue
// ceiling. Quota and engine failures are reported through the error
// callback as well as returned, since they are expected under
// backpressure and the triggering call may race output delivery.
func (p *pipeline) submit(op string, payload []byte) error {
	p.mu.Lock()
	if p.state != StateConfigured {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s while %s", ErrInvalidState, op, p.state)
	}
	if p.pendingFlush != nil {
		p.mu.Unlock()
		return fmt.Errorf("%w: cannot submit while flush pending", ErrInvalidState)
	}
	eng := p.engine
	if eng == nil || !eng.Healthy() {
		p.mu.Unlock()
		err := &EncodingError{Op: op, Err: errors.New("engine unhealthy")}
		p.reportError(err)
		return err
	}
	if p.queueDepth >= p.ceiling {
		p.mu.Unlock()
		err := fmt.Errorf("%w: %s queue at ceiling %d", ErrQuotaExceeded, op, p.ceiling)
		p.reportError(err)
		return err
	}
	p.queueDepth++ // optimistic, rolled back if the forward fails
	p.mu.Unlock()

	if err := eng.Write(payload); err != nil {
		p.mu.Lock()
		if p.queueDepth > 0 {
			p.queueDepth--
		}
		p.mu.Unlock()
		werr := &EncodingError{Op: op, Err: err}
		p.reportError(werr)
		return werr
	}
	return nil
}

// flush signals end-of-stream and waits for the engine to fully drain.
// Concurrent calls before completion share one pending operation. On
// drain, counters reset and the engine restarts with the same
// configuration so submission can resume immediately. If ctx expires
// first the operation resolves with ErrFlushTimeout for every waiter and
// the engine is torn down and restarted, leaving reset and retry safe.
func (p *pipeline) flush(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateConfigured {
		p.mu.Unlock()
		return fmt.Errorf("%w: flush while %s", ErrInvalidState, p.state)
	}
	if op := p.pendingFlush; op != nil {
		p.mu.Unlock()
		return p.awaitFlush(ctx, op)
	}

	op := &flushOp{done: make(chan struct{})}
	p.pendingFlush = op
	eng := p.engine
	p.mu.Unlock()

	if eng == nil {
		p.failFlush(op, &EncodingError{Op: "flush", Err: errors.New("engine not running")})
		return op.err
	}
	if err := eng.End(); err != nil {
		p.failFlush(op, &EncodingError{Op: "flush", Err: err})
		return op.err
	}
	return p.awaitFlush(ctx, op)
}

func (p *pipeline) awaitFlush(ctx context.Context, op *flushOp) error {
	select {
	case <-op.done:
		return op.err
	case <-ctx.Done():
		return p.timeoutFlush(op)
	}
}

// timeoutFlush resolves op with ErrFlushTimeout unless it completed in the
// meantime. The engine is killed and restarted so no handle leaks and
// counters are never left partially updated.
func (p *pipeline) timeoutFlush(op *flushOp) error {
	p.mu.Lock()
	if p.pendingFlush != op {
		// Completed (or canceled) while we raced the deadline.
		p.mu.Unlock()
		<-op.done
		return op.err
	}
	p.pendingFlush = nil
	p.queueDepth = 0
	p.frameIndex = 0
	p.generation++
	if p.engine != nil {
		p.engine.Kill()
		p.engine = nil
	}
	restartErr := p.startEngineLocked()
	op.err = ErrFlushTimeout
	p.mu.Unlock()

	close(op.done)
	if restartErr != nil {
		p.reportError(restartErr)
	}
	return ErrFlushTimeout
}

// failFlush resolves op with err if it is still the pending operation.
func (p *pipeline) failFlush(op *flushOp, err error) {
	p.mu.Lock()
	if p.pendingFlush != op {
		p.mu.Unlock()
		<-op.done
		return
	}
	p.pendingFlush = nil
	op.err = err
	p.mu.Unlock()
	close(op.done)
}

// reset tears down the engine, clears configuration and counters, and
// returns to unconfigured. A pending flush resolves with a cancellation
// outcome so its waiters never hang.
func (p *pipeline) reset() error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return fmt.Errorf("%w: reset on closed %s", ErrInvalidState, p.name)
	}
	canceled := p.teardownLocked(fmt.Errorf("%w: flush canceled by reset", ErrInvalidState))
	p.cfg = EngineConfig{}
	p.queueDepth = 0
	p.frameIndex = 0
	p.state = StateUnconfigured
	p.mu.Unlock()

	resolveFlush(canceled)
	return nil
}

// close is idempotent and reaches the terminal state from anywhere.
func (p *pipeline) close() error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return nil
	}
	canceled := p.teardownLocked(fmt.Errorf("%w: flush canceled by close", ErrInvalidState))
	p.state = StateClosed
	p.mu.Unlock()

	resolveFlush(canceled)
	return nil
}

// teardownLocked kills the current engine, invalidates in-flight events
// via the generation counter, and detaches any pending flush, returning
// it resolved with reason for the caller to complete outside the lock.
func (p *pipeline) teardownLocked(reason error) *flushOp {
	p.generation++
	if p.engine != nil {
		p.engine.Kill()
		p.engine = nil
	}
	op := p.pendingFlush
	p.pendingFlush = nil
	if op != nil {
		op.err = reason
	}
	return op
}

func resolveFlush(op *flushOp) {
	if op != nil {
		close(op.done)
	}
}

// startEngineLocked creates and starts an engine for the current
// configuration and spawns its dispatch loop. Caller holds mu.
func (p *pipeline) startEngineLocked() error {
	eng := p.factory()
	if err := eng.Start(p.cfg); err != nil {
		p.engine = nil
		return &EncodingError{Op: "configure", Err: err}
	}
	p.generation++
	p.engine = eng
	go p.dispatch(eng, p.generation)
	return nil
}

// dispatch is the single consumer of one engine's event stream. Events
// from a torn-down engine generation are discarded (borrowed buffers
// still released) rather than delivered against the wrong configuration.
func (p *pipeline) dispatch(eng Engine, gen uint64) {
	for ev := range eng.Events() {
		switch ev := ev.(type) {
		case EngineAccepted:
			p.mu.Lock()
			if gen == p.generation && p.queueDepth > 0 {
				p.queueDepth--
			}
			p.mu.Unlock()

		case EngineFrame:
			p.mu.Lock()
			stale := gen != p.generation
			p.mu.Unlock()
			if stale {
				if ev.Release != nil {
					ev.Release()
				}
				continue
			}
			p.emitFrame(ev)

		case EngineError:
			p.mu.Lock()
			stale := gen != p.generation
			p.mu.Unlock()
			if !stale {
				p.reportError(ev.Err)
			}

		case EngineClosed:
			p.handleClosed(gen)
		}
	}
}

// handleClosed completes a pending flush (drain acknowledged: reset
// counters, restart the engine with the same configuration) or, absent
// one, records that the engine died so submits fail fast.
func (p *pipeline) handleClosed(gen uint64) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}
	op := p.pendingFlush
	if op == nil {
		// Engine went away without a flush in flight.
		p.engine = nil
		p.mu.Unlock()
		return
	}
	p.pendingFlush = nil
	p.queueDepth = 0
	p.frameIndex = 0
	p.generation++
	p.engine = nil
	restartErr := p.startEngineLocked()
	p.mu.Unlock()

	close(op.done)
	if restartErr != nil {
		p.reportError(restartErr)
	}
}

// reserveTimestamps recomputes output timing for the decode direction:
// engine timestamps are not trusted, the running frame index is. Returns
// the timestamp for the next produced output and advances the index by
// the number of frames or samples it covers.
func (p *pipeline) reserveTimestamps(advance int, rate int) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rate <= 0 {
		rate = 1
	}
	ts := int64(p.frameIndex) * 1_000_000 / int64(rate)
	p.frameIndex += uint64(advance)
	return ts
}

// emitFrame hands one engine output to the face's translator. A panic in
// the user's output callback is captured and diverted to diagnostics so a
// callback bug can never crash the host.
func (p *pipeline) emitFrame(ev EngineFrame) {
	defer func() {
		if r := recover(); r != nil {
			p.diag.callbackFailure(p.name, "output", r)
		}
	}()
	p.frameCB(ev)
}

// reportError delivers a failure through the error callback, diverting a
// second-order callback panic to diagnostics.
func (p *pipeline) reportError(err error) {
	defer func() {
		if r := recover(); r != nil {
			p.diag.callbackFailure(p.name, "error", r)
		}
	}()
	p.errorCB(err)
}
