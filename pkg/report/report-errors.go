package report

import (
	"github.com/pkg/errors"
)

var (
	// ErrPoisoned is returned by every operation on a report whose lock
	// was held by a panicking goroutine: its content can't be trusted.
	ErrPoisoned = errors.New("report lock poisoned")
)
