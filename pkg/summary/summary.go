// Package summary describes a profiling session in JSON.
package summary

import (
	"encoding/json"
	"io"
	"time"
)

type Summary struct {
	Application string    `json:"application,omitempty"`
	SpyName     string    `json:"spy_name"`
	SampleRate  uint32    `json:"sample_rate"`
	Samples     uint64    `json:"samples"`
	Stacks      int       `json:"stacks"`
	From        time.Time `json:"from"`
	Until       time.Time `json:"until"`
}

type Option func(*Summary)

func New(opts ...Option) *Summary {
	s := new(Summary)
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func WithApplication(name string) Option {
	return func(s *Summary) {
		s.Application = name
	}
}

func WithSpyName(name string) Option {
	return func(s *Summary) {
		s.SpyName = name
	}
}

func WithSampleRate(rate uint32) Option {
	return func(s *Summary) {
		s.SampleRate = rate
	}
}

// WithSamples sets the total sample count and the number of distinct
// stacks they were aggregated into.
func WithSamples(samples uint64, stacks int) Option {
	return func(s *Summary) {
		s.Samples = samples
		s.Stacks = stacks
	}
}

func WithWindow(from, until time.Time) Option {
	return func(s *Summary) {
		s.From = from
		s.Until = until
	}
}

// Duration is the wall time the session lasted.
func (s *Summary) Duration() time.Duration {
	return s.Until.Sub(s.From)
}

// Coverage is the ratio of the samples collected over the ones expected
// at the sample rate for a single thread.
func (s *Summary) Coverage() float64 {
	expected := s.Duration().Seconds() * float64(s.SampleRate)
	if expected <= 0 {
		return 0
	}

	return float64(s.Samples) / expected
}

func (s *Summary) WriteSummary(w io.Writer) error {
	encoder := json.NewEncoder(w)
	return encoder.Encode(s)
}
