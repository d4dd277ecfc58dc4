package ingest

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNoEndpoint = errors.New("no ingestion endpoint specified")
	ErrNoAppName  = errors.New("no application name specified")
)

// TransportError is returned when a profile could not be delivered to the
// collector, either because the request failed or because the collector
// rejected it.
type TransportError struct {
	// StatusCode is zero when no response was received.
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ingestion failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ingestion failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
