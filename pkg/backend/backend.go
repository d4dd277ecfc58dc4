// Package backend implements the lifecycle of a sampling profiler backend:
// it owns a sampler, the channels the sampler emits on, and the report the
// samples are aggregated into.
package backend

// Backend is a source of folded profiles.
type Backend interface {
	// SpyName identifies the sampling technique to the collector.
	SpyName() string
	// SampleRate is in samples per second.
	SampleRate() uint32
	State() State

	Initialize() error
	Start() error
	Stop() error
	// Report returns the folded profile of the samples collected since
	// the previous call.
	Report() ([]byte, error)
}

// State is the lifecycle state of a backend:
//
//	Uninitialized --Initialize--> Ready --Start--> Running --Stop--> Ready
//
// A failed Start leaves the backend in Failed, which accepts Start again.
type State int

const (
	Uninitialized State = iota
	Ready
	Running
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// startable reports whether Start is accepted in the state.
func (s State) startable() bool {
	return s == Ready || s == Failed
}
