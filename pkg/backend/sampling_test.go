package backend_test

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maxgio92/pyrospy/pkg/backend"
	"github.com/maxgio92/pyrospy/pkg/sampler"
)

// MockSampler implements sampler.Sampler, keeping the sinks it was started
// with so that tests can emit on them.
type MockSampler struct {
	mock.Mock

	mu     sync.Mutex
	cfg    sampler.Config
	traces chan<- *sampler.StackTrace
	errs   sampler.ErrorSink
}

func (m *MockSampler) Start(traces chan<- *sampler.StackTrace, errs sampler.ErrorSink) error {
	args := m.Called(traces, errs)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.traces, m.errs = traces, errs
		m.mu.Unlock()
	}
	return args.Error(0)
}

func (m *MockSampler) Stop() {
	m.Called()
}

func (m *MockSampler) emit(trace *sampler.StackTrace) {
	m.mu.Lock()
	traces := m.traces
	m.mu.Unlock()
	traces <- trace
}

func (m *MockSampler) fail(err error) {
	m.mu.Lock()
	errs := m.errs
	m.mu.Unlock()
	errs.Send(err)
}

func newBackend(t *testing.T, m *MockSampler, opts ...backend.Option) *backend.Sampling {
	factory := func(cfg sampler.Config) sampler.Sampler {
		m.cfg = cfg
		return m
	}
	opts = append([]backend.Option{backend.WithLogger(zerolog.New(zerolog.NewTestWriter(t)))}, opts...)
	return backend.New("testspy", factory, opts...)
}

func trace(tid int, frames ...string) *sampler.StackTrace {
	t := &sampler.StackTrace{ThreadID: &tid}
	for _, f := range frames {
		t.Frames = append(t.Frames, sampler.StackFrame{Name: f})
	}
	return t
}

func TestInitialize(t *testing.T) {
	m := new(MockSampler)
	b := newBackend(t, m,
		backend.WithPid(42),
		backend.WithSampleRate(50),
		backend.WithLockProcess(true),
		backend.WithTimeLimit(time.Minute),
		backend.WithSubprocesses(true),
	)
	require.Equal(t, backend.Uninitialized, b.State())
	require.Equal(t, "testspy", b.SpyName())
	require.Equal(t, uint32(50), b.SampleRate())

	require.NoError(t, b.Initialize())
	require.Equal(t, backend.Ready, b.State())
	require.Equal(t, sampler.Config{
		Pid:              42,
		SampleRate:       50,
		LockProcess:      true,
		TimeLimit:        time.Minute,
		WithSubprocesses: true,
	}, m.cfg)

	require.ErrorIs(t, b.Initialize(), backend.ErrAlreadyInitialized)
	require.Equal(t, backend.Ready, b.State())
}

func TestInitializeDefaults(t *testing.T) {
	b := newBackend(t, new(MockSampler), backend.WithPid(1))
	require.Equal(t, uint32(backend.DefaultSampleRate), b.SampleRate())
}

func TestInitializeMissingTarget(t *testing.T) {
	b := newBackend(t, new(MockSampler))
	require.ErrorIs(t, b.Initialize(), backend.ErrMissingTarget)
	require.Equal(t, backend.Uninitialized, b.State())
}

func TestInitializeInvalidSampleRate(t *testing.T) {
	b := newBackend(t, new(MockSampler), backend.WithPid(1), backend.WithSampleRate(0))
	require.ErrorIs(t, b.Initialize(), backend.ErrInvalidSampleRate)
	require.Equal(t, backend.Uninitialized, b.State())
}

func TestLifecycleGuards(t *testing.T) {
	m := new(MockSampler)
	m.On("Start", mock.Anything, mock.Anything).Return(nil)
	m.On("Stop").Return()
	b := newBackend(t, m, backend.WithPid(1))

	require.ErrorIs(t, b.Start(), backend.ErrNotReady)
	require.ErrorIs(t, b.Stop(), backend.ErrNotRunning)
	_, err := b.Report()
	require.ErrorIs(t, err, backend.ErrNotRunning)
	require.Equal(t, backend.Uninitialized, b.State())

	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start())
	require.Equal(t, backend.Running, b.State())
	require.ErrorIs(t, b.Start(), backend.ErrNotReady)

	require.NoError(t, b.Stop())
	require.Equal(t, backend.Ready, b.State())
	_, err = b.Report()
	require.ErrorIs(t, err, backend.ErrNotRunning)

	// Ready again: it can be restarted.
	require.NoError(t, b.Start())
	require.Equal(t, backend.Running, b.State())
	require.NoError(t, b.Stop())

	m.AssertNumberOfCalls(t, "Start", 2)
	m.AssertNumberOfCalls(t, "Stop", 2)
}

func TestStartQueueSize(t *testing.T) {
	m := new(MockSampler)
	m.On("Start", mock.Anything, mock.Anything).Return(nil)
	b := newBackend(t, m, backend.WithPid(1), backend.WithSampleRate(3))

	used, capacity := b.QueueUsage()
	require.Zero(t, used)
	require.Zero(t, capacity)

	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start())

	m.emit(trace(1, "a"))
	used, capacity = b.QueueUsage()
	require.Equal(t, 1, used)
	require.Equal(t, 3*10*100, capacity)
}

func TestStartFailureCanBeRetried(t *testing.T) {
	cause := errors.New("process not found")

	m := new(MockSampler)
	m.On("Start", mock.Anything, mock.Anything).Return(cause).Once()
	m.On("Start", mock.Anything, mock.Anything).Return(nil).Once()
	b := newBackend(t, m, backend.WithPid(1))
	require.NoError(t, b.Initialize())

	err := b.Start()
	require.ErrorIs(t, err, backend.ErrSamplerStart)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "process not found")
	require.NotEqual(t, backend.Running, b.State())
	require.Equal(t, backend.Failed, b.State())

	_, err = b.Report()
	require.ErrorIs(t, err, backend.ErrNotRunning)

	require.NoError(t, b.Start())
	require.Equal(t, backend.Running, b.State())
}

func TestReport(t *testing.T) {
	m := new(MockSampler)
	m.On("Start", mock.Anything, mock.Anything).Return(nil)
	b := newBackend(t, m, backend.WithPid(1))
	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start())

	out, err := b.Report()
	require.NoError(t, err)
	require.Empty(t, out)

	for i := 0; i < 7; i++ {
		m.emit(trace(1, "f0", "f1", "f2"))
	}
	m.emit(trace(2, "g0", "main"))
	m.fail(errors.New("unwind failed"))

	out, err = b.Report()
	require.NoError(t, err)
	require.Equal(t, "f2;f1;f0 7\nmain;g0 1\n", string(out))

	// The window was cleared.
	out, err = b.Report()
	require.NoError(t, err)
	require.Empty(t, out)
	require.True(t, b.Buffer().IsEmpty())
}

func TestDrain(t *testing.T) {
	m := new(MockSampler)
	m.On("Start", mock.Anything, mock.Anything).Return(nil)
	b := newBackend(t, m, backend.WithPid(1))

	_, err := b.Drain()
	require.ErrorIs(t, err, backend.ErrNotRunning)

	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start())

	m.emit(trace(1, "a", "b"))
	m.emit(trace(1, "a", "b"))
	n, err := b.Drain()
	require.NoError(t, err)
	require.Equal(t, 2, n)

	m.emit(trace(1, "c"))
	n, err = b.Drain()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Drained traces are kept until the next report.
	require.EqualValues(t, 3, b.Buffer().Total())
	out, err := b.Report()
	require.NoError(t, err)
	require.Equal(t, "b;a 2\nc 1\n", string(out))
}

func TestStopAndDrain(t *testing.T) {
	m := new(MockSampler)
	m.On("Start", mock.Anything, mock.Anything).Return(nil)
	b := newBackend(t, m, backend.WithPid(1))

	_, err := b.StopAndDrain()
	require.ErrorIs(t, err, backend.ErrNotRunning)

	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start())

	m.emit(trace(1, "a"))
	// Traces emitted while the sampler shuts down are kept.
	m.On("Stop").Run(func(mock.Arguments) {
		m.emit(trace(1, "b"))
	}).Return().Once()

	n, err := b.StopAndDrain()
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.EqualValues(t, 2, b.Buffer().Total())
	require.Equal(t, backend.Ready, b.State())

	_, err = b.Report()
	require.ErrorIs(t, err, backend.ErrNotRunning)
	m.AssertExpectations(t)
}

func TestReportWithThreadNames(t *testing.T) {
	m := new(MockSampler)
	m.On("Start", mock.Anything, mock.Anything).Return(nil)
	b := newBackend(t, m, backend.WithPid(1), backend.WithThreadNames(true))
	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start())

	named := trace(9, "leaf", "root")
	name := "worker"
	named.ThreadName = &name
	m.emit(named)
	m.emit(trace(3, "leaf", "root"))

	out, err := b.Report()
	require.NoError(t, err)
	require.Equal(t, "3;root;leaf 1\nworker;root;leaf 1\n", string(out))
}

func TestReportConvertsFrames(t *testing.T) {
	m := new(MockSampler)
	m.On("Start", mock.Anything, mock.Anything).Return(nil)
	b := newBackend(t, m, backend.WithPid(1))
	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start())

	m.emit(&sampler.StackTrace{Frames: []sampler.StackFrame{
		{Name: "work", RelativePath: "app.rb", Lineno: 12},
		{Name: "<main>", RelativePath: "app.rb", Lineno: 1},
	}})

	out, err := b.Report()
	require.NoError(t, err)
	require.Equal(t, "<main> - app.rb:1;work - app.rb:12 1\n", string(out))
}

func TestStopConcurrentWithReport(t *testing.T) {
	m := new(MockSampler)
	m.On("Start", mock.Anything, mock.Anything).Return(nil)
	m.On("Stop").Return()
	b := newBackend(t, m, backend.WithPid(1))
	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start())

	for i := 0; i < 100; i++ {
		m.emit(trace(1, "a"))
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Report()
			if err != nil {
				assert.ErrorIs(t, err, backend.ErrNotRunning)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, b.Stop())
	}()
	wg.Wait()

	require.Equal(t, backend.Ready, b.State())
}

func TestClose(t *testing.T) {
	m := new(MockSampler)
	m.On("Start", mock.Anything, mock.Anything).Return(nil)
	m.On("Stop").Return()
	b := newBackend(t, m, backend.WithPid(1))
	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start())

	require.NoError(t, b.Close())
	require.Equal(t, backend.Uninitialized, b.State())
	m.AssertCalled(t, "Stop")

	require.NoError(t, b.Initialize())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "uninitialized", backend.Uninitialized.String())
	require.Equal(t, "ready", backend.Ready.String())
	require.Equal(t, "running", backend.Running.String())
	require.Equal(t, "failed", backend.Failed.String())
}
