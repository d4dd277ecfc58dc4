package procfs

import (
	"github.com/pkg/errors"
)

var (
	ErrProcessNotFound = errors.New("target process not found")
	ErrProcessExited   = errors.New("target process exited")
	ErrAlreadyStarted  = errors.New("sampler already started")
	ErrNoPid           = errors.New("no target pid specified")
)
