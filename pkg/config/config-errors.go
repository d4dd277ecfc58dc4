package config

import (
	"github.com/pkg/errors"
)

var (
	ErrMissingTarget     = errors.New("no target pid specified")
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	ErrNoAppName         = errors.New("no application name specified")
	ErrNoServerAddress   = errors.New("no server address specified")
	ErrInvalidInterval   = errors.New("report interval must be positive")
	ErrUnknownSpy        = errors.New("unknown spy")
	ErrNegativeTimeLimit = errors.New("time limit must not be negative")
)
