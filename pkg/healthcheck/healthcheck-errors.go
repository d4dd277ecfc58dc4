package healthcheck

import (
	"github.com/pkg/errors"
)

var (
	ErrTimeout   = errors.New("timeout waiting for the agent readiness")
	ErrNotSocket = errors.New("path exists but is not a unix socket")
)
