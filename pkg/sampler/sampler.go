// Package sampler defines the boundary between pyrospy and the mechanism
// that actually captures stack traces from a target process.
package sampler

import (
	"time"
)

// StackFrame is a frame as reported by a sampler.
type StackFrame struct {
	Name         string
	RelativePath string
	AbsolutePath *string
	Lineno       uint32
	// Module is the binary or shared object containing the frame, when
	// known.
	Module *string
}

// StackTrace is a sampled stack, innermost frame first.
type StackTrace struct {
	Pid        *int
	ThreadID   *int
	ThreadName *string
	Frames     []StackFrame
}

// ErrorSink receives errors a sampler hits while running. Send must never
// block.
type ErrorSink interface {
	Send(err error)
}

// Sampler periodically captures stack traces of a target.
type Sampler interface {
	// Start begins emitting traces and errors from a worker goroutine.
	// Sends on traces may block: Start must not drop traces when the
	// channel is full.
	Start(traces chan<- *StackTrace, errs ErrorSink) error

	// Stop ends sampling. It unblocks a worker waiting on a full traces
	// channel and returns once the worker exited and the target was
	// released. It is a no-op when the sampler is not running.
	Stop()
}

// Config holds the parameters a Sampler is built from.
type Config struct {
	// Pid is the target process.
	Pid int
	// SampleRate is in samples per second.
	SampleRate uint32
	// LockProcess pauses the target while a sample is taken.
	LockProcess bool
	// TimeLimit stops sampling after the given duration. Zero means no
	// limit.
	TimeLimit time.Duration
	// WithSubprocesses also samples the descendants of the target.
	WithSubprocesses bool
}

// Interval returns the time between two samples.
func (c Config) Interval() time.Duration {
	if c.SampleRate == 0 {
		return time.Second
	}
	return time.Second / time.Duration(c.SampleRate)
}

// Factory builds a Sampler.
type Factory func(cfg Config) Sampler
