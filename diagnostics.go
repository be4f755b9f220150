package webcodecs

import (
	"io"
	"log/slog"
)

// Diagnostics carries the observability configuration for a pipeline or
// muxer instance. It is injected at construction time rather than read
// from ambient process state; the zero value discards everything.
//
// Second-order failures land here: if a caller's output or error callback
// panics, the panic is captured and logged through Diagnostics instead of
// crashing the dispatch loop or going unobserved.
type Diagnostics struct {
	// Logger receives structured pipeline and muxer events. Nil discards.
	Logger *slog.Logger
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func (d Diagnostics) logger() *slog.Logger {
	if d.Logger == nil {
		return discardLogger
	}
	return d.Logger
}

// callbackFailure records a panic raised by a caller-supplied callback.
func (d Diagnostics) callbackFailure(component, callback string, recovered any) {
	d.logger().Error("callback panicked",
		"component", component,
		"callback", callback,
		"panic", recovered)
}
