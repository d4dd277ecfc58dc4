package backend

import (
	"time"

	log "github.com/rs/zerolog"
)

type Option func(*Sampling)

// WithPid sets the target process. It is mandatory.
func WithPid(pid int) Option {
	return func(b *Sampling) {
		b.pid = &pid
	}
}

func WithSampleRate(rate uint32) Option {
	return func(b *Sampling) {
		b.cfg.SampleRate = rate
	}
}

func WithLockProcess(lock bool) Option {
	return func(b *Sampling) {
		b.cfg.LockProcess = lock
	}
}

// WithTimeLimit bounds the profiling duration. Zero means no limit.
func WithTimeLimit(limit time.Duration) Option {
	return func(b *Sampling) {
		b.cfg.TimeLimit = limit
	}
}

func WithSubprocesses(with bool) Option {
	return func(b *Sampling) {
		b.cfg.WithSubprocesses = with
	}
}

// WithThreadNames prefixes every folded line with the sampled thread.
func WithThreadNames(with bool) Option {
	return func(b *Sampling) {
		b.threadNames = with
	}
}

func WithLogger(logger log.Logger) Option {
	return func(b *Sampling) {
		b.logger = logger
	}
}
