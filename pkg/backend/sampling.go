package backend

import (
	"bytes"
	"sync"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"

	"github.com/maxgio92/pyrospy/pkg/report"
	"github.com/maxgio92/pyrospy/pkg/sampler"
)

const (
	DefaultSampleRate = 100

	// The trace channel holds queueWindow seconds of samples of up to
	// queueThreads threads sampled concurrently.
	queueWindow  = 10
	queueThreads = 100
)

var _ Backend = &Sampling{}

// Sampling is a Backend driven by a sampler.Sampler. All its methods are
// safe for concurrent use.
type Sampling struct {
	spyName     string
	factory     sampler.Factory
	pid         *int
	cfg         sampler.Config
	threadNames bool
	logger      log.Logger

	mu      sync.Mutex
	state   State
	sampler sampler.Sampler
	traces  chan *sampler.StackTrace
	errs    *errorQueue

	buffer *report.Report
}

// New returns an uninitialized backend building its sampler with factory.
func New(spyName string, factory sampler.Factory, opts ...Option) *Sampling {
	b := &Sampling{
		spyName: spyName,
		factory: factory,
		cfg: sampler.Config{
			SampleRate: DefaultSampleRate,
		},
		logger: log.Nop(),
		state:  Uninitialized,
		buffer: report.New(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With().Str("component", "backend").Str("spy", spyName).Logger()

	return b
}

func (b *Sampling) SpyName() string {
	return b.spyName
}

func (b *Sampling) SampleRate() uint32 {
	return b.cfg.SampleRate
}

func (b *Sampling) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Buffer returns the report samples are aggregated into.
func (b *Sampling) Buffer() *report.Report {
	return b.buffer
}

// QueueUsage returns the number of buffered traces and the capacity of the
// trace channel. Both are zero unless the backend was started.
func (b *Sampling) QueueUsage() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.traces == nil {
		return 0, 0
	}
	return len(b.traces), cap(b.traces)
}

// Initialize validates the configuration and builds the sampler.
func (b *Sampling) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Uninitialized {
		return ErrAlreadyInitialized
	}
	if b.pid == nil {
		return ErrMissingTarget
	}
	if b.cfg.SampleRate == 0 {
		return ErrInvalidSampleRate
	}

	b.cfg.Pid = *b.pid
	b.sampler = b.factory(b.cfg)
	b.state = Ready

	b.logger.Debug().
		Int("pid", b.cfg.Pid).
		Uint32("sample_rate", b.cfg.SampleRate).
		Msg("backend initialized")

	return nil
}

// Start creates the channels and starts the sampler. A start rejected by
// the sampler may be retried.
func (b *Sampling) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.state.startable() {
		return ErrNotReady
	}

	queueSize := int(b.cfg.SampleRate) * queueWindow * queueThreads
	traces := make(chan *sampler.StackTrace, queueSize)
	errs := new(errorQueue)

	if err := b.sampler.Start(traces, errs); err != nil {
		b.state = Failed
		b.logger.Warn().Err(err).Msg("sampler rejected start")
		return errors.WithStack(&samplerError{cause: err})
	}

	b.traces = traces
	b.errs = errs
	b.state = Running

	b.logger.Debug().Int("queue_size", queueSize).Msg("backend started")

	return nil
}

// Stop detaches the sampler. Traces still buffered are not drained.
func (b *Sampling) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Running {
		return ErrNotRunning
	}

	b.sampler.Stop()
	b.state = Ready

	b.logger.Debug().Msg("backend stopped")

	return nil
}

// StopAndDrain detaches the sampler, then records into the buffer what
// it emitted up to that point. It returns the number of traces recorded.
func (b *Sampling) StopAndDrain() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Running {
		return 0, ErrNotRunning
	}

	b.sampler.Stop()
	b.state = Ready

	drained, err := b.drain()
	b.logger.Debug().Int("traces", drained).Msg("backend stopped")

	return drained, err
}

// Report drains what the sampler emitted so far without waiting for more,
// and returns the folded encoding of the window, which is then cleared.
// Sampler errors are logged, not returned.
func (b *Sampling) Report() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Running {
		return nil, ErrNotRunning
	}

	drained, err := b.drain()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := b.buffer.Flush(&buf, b.threadNames); err != nil {
		return nil, errors.Wrap(err, "error encoding report")
	}

	b.logger.Debug().Int("traces", drained).Int("bytes", buf.Len()).Msg("report collected")

	return buf.Bytes(), nil
}

// Drain records what the sampler emitted so far into the buffer, without
// encoding nor clearing it. It returns the number of traces recorded.
func (b *Sampling) Drain() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Running {
		return 0, ErrNotRunning
	}

	return b.drain()
}

func (b *Sampling) drain() (int, error) {
	for _, err := range b.errs.drain() {
		b.logger.Error().Err(err).Msg("error in sampler")
	}

	// Bounded by the capacity, so that a fast sampler can't keep the
	// drain going forever.
	var drained int
	for drained < cap(b.traces) {
		select {
		case trace := <-b.traces:
			drained++
			if err := b.buffer.Record(toTrace(trace)); err != nil {
				return drained, errors.Wrap(err, "error recording stack trace")
			}
		default:
			return drained, nil
		}
	}

	return drained, nil
}

// Close releases the sampler from any state. The backend must be
// initialized again before being reused.
func (b *Sampling) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sampler != nil {
		b.sampler.Stop()
	}
	b.sampler = nil
	b.traces = nil
	b.errs = nil
	b.state = Uninitialized

	return nil
}
