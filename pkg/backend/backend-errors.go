package backend

import (
	"github.com/pkg/errors"
)

var (
	ErrAlreadyInitialized = errors.New("backend is already initialized")
	ErrMissingTarget      = errors.New("no target process specified")
	ErrInvalidSampleRate  = errors.New("sample rate must be positive")
	ErrNotReady           = errors.New("backend is not ready")
	ErrNotRunning         = errors.New("backend is not running")
	ErrSamplerStart       = errors.New("sampler failed to start")
)

// samplerError wraps the cause of a sampler failure so that it matches
// both ErrSamplerStart and the cause with errors.Is.
type samplerError struct {
	cause error
}

func (e *samplerError) Error() string {
	return ErrSamplerStart.Error() + ": " + e.cause.Error()
}

func (e *samplerError) Is(target error) bool {
	return target == ErrSamplerStart
}

func (e *samplerError) Unwrap() error {
	return e.cause
}
