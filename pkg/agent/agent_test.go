package agent

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maxgio92/pyrospy/pkg/backend"
	"github.com/maxgio92/pyrospy/pkg/ingest"
)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) SpyName() string    { return "testspy" }
func (m *MockBackend) SampleRate() uint32 { return 100 }

func (m *MockBackend) State() backend.State {
	return m.Called().Get(0).(backend.State)
}

func (m *MockBackend) Initialize() error {
	return m.Called().Error(0)
}

func (m *MockBackend) Start() error {
	return m.Called().Error(0)
}

func (m *MockBackend) Stop() error {
	return m.Called().Error(0)
}

func (m *MockBackend) Report() ([]byte, error) {
	args := m.Called()
	body, _ := args.Get(0).([]byte)
	return body, args.Error(1)
}

type MockIngester struct {
	mock.Mock
}

func (m *MockIngester) Ingest(ctx context.Context, req ingest.Request) error {
	return m.Called(req).Error(0)
}

// clock returns the given instants in order, then sticks to the last one.
func clock(secs ...int64) func() time.Time {
	i := 0
	return func() time.Time {
		t := time.Unix(secs[i], 0)
		if i < len(secs)-1 {
			i++
		}
		return t
	}
}

func newAgent(t *testing.T, b backend.Backend, c Ingester, opts ...Option) *Agent {
	t.Helper()
	opts = append([]Option{
		WithAppName("app.cpu"),
		WithLogger(zerolog.New(zerolog.NewTestWriter(t))),
	}, opts...)
	a, err := New(b, c, opts...)
	require.NoError(t, err)

	return a
}

func TestNew(t *testing.T) {
	_, err := New(nil, new(MockIngester), WithAppName("app"))
	assert.ErrorIs(t, err, ErrNoBackend)

	_, err = New(new(MockBackend), new(MockIngester))
	assert.ErrorIs(t, err, ingest.ErrNoAppName)

	a, err := New(new(MockBackend), new(MockIngester),
		WithAppName("app"),
		WithTags(map[string]string{"region": "eu", "env": "prod"}),
		WithReportInterval(-time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, "app{env=prod,region=eu}", a.Name())
	assert.Equal(t, DefaultReportInterval, a.interval)
	assert.Equal(t, ingest.DefaultAlignment, a.alignment)
}

func TestCycleAlignedWindow(t *testing.T) {
	b := new(MockBackend)
	b.On("Report").Return([]byte("a;b 1\n"), nil).Once()
	c := new(MockIngester)
	c.On("Ingest", ingest.Request{
		Name: "app.cpu{env=prod}",
		Window: ingest.Window{
			From:  time.Unix(1000, 0),
			Until: time.Unix(1010, 0),
		},
		SampleRate: 100,
		SpyName:    "testspy",
		Body:       []byte("a;b 1\n"),
	}).Return(nil).Once()

	a := newAgent(t, b, c,
		WithTags(map[string]string{"env": "prod"}),
		withClock(clock(1009)),
	)
	a.windowStarted = time.Unix(1005, 0)

	require.NoError(t, a.Cycle(context.Background()))
	assert.Equal(t, time.Unix(1009, 0), a.windowStarted)
	assert.EqualValues(t, 1, a.cycles.Load())
	assert.EqualValues(t, 6, a.lastBytes.Load())
	b.AssertExpectations(t)
	c.AssertExpectations(t)
}

func TestCycleMeasuredWindow(t *testing.T) {
	b := new(MockBackend)
	b.On("Report").Return([]byte("a 1\n"), nil).Once()
	c := new(MockIngester)
	c.On("Ingest", mock.MatchedBy(func(req ingest.Request) bool {
		return req.Window.From.Equal(time.Unix(1005, 0)) &&
			req.Window.Until.Equal(time.Unix(1030, 0))
	})).Return(nil).Once()

	a := newAgent(t, b, c, withClock(clock(1030)))
	a.windowStarted = time.Unix(1005, 0)

	require.NoError(t, a.Cycle(context.Background()))
	c.AssertExpectations(t)
}

func TestWindowToleratesTickerJitter(t *testing.T) {
	a := newAgent(t, new(MockBackend), new(MockIngester))
	start := time.Unix(1005, 0)

	w := a.window(start, start.Add(DefaultReportInterval+time.Millisecond))
	assert.Equal(t, time.Unix(1000, 0), w.From)
	assert.Equal(t, time.Unix(1010, 0), w.Until)

	w = a.window(start, start.Add(2*DefaultReportInterval))
	assert.Equal(t, start, w.From)
	assert.Equal(t, start.Add(2*DefaultReportInterval), w.Until)
}

func TestCycleSkipsEmptyProfile(t *testing.T) {
	b := new(MockBackend)
	b.On("Report").Return([]byte{}, nil).Once()
	c := new(MockIngester)

	a := newAgent(t, b, c, withClock(clock(1001)))
	a.windowStarted = time.Unix(1000, 0)

	require.NoError(t, a.Cycle(context.Background()))
	c.AssertNotCalled(t, "Ingest", mock.Anything)
}

func TestCycleReportError(t *testing.T) {
	b := new(MockBackend)
	b.On("Report").Return(nil, backend.ErrNotRunning).Once()
	c := new(MockIngester)

	a := newAgent(t, b, c, withClock(clock(1001)))
	a.windowStarted = time.Unix(1000, 0)

	err := a.Cycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReport)
	assert.ErrorIs(t, err, backend.ErrNotRunning)
	// The window is kept so that the next cycle covers it.
	assert.Equal(t, time.Unix(1000, 0), a.windowStarted)
}

func TestCycleIngestError(t *testing.T) {
	b := new(MockBackend)
	b.On("Report").Return([]byte("a 1\n"), nil).Once()
	c := new(MockIngester)
	failure := &ingest.TransportError{StatusCode: 500, Err: errors.New("boom")}
	c.On("Ingest", mock.Anything).Return(failure).Once()

	a := newAgent(t, b, c, withClock(clock(1001)))
	a.windowStarted = time.Unix(1000, 0)

	err := a.Cycle(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrReport)
	assert.EqualValues(t, 1, a.ingestErrors.Load())
}

func TestRunFlushesOnShutdown(t *testing.T) {
	b := new(MockBackend)
	b.On("State").Return(backend.Uninitialized).Once()
	b.On("Initialize").Return(nil).Once()
	b.On("Start").Return(nil).Once()
	b.On("Report").Return([]byte("main;work 3\n"), nil).Once()
	b.On("Stop").Return(nil).Once()
	c := new(MockIngester)
	c.On("Ingest", mock.MatchedBy(func(req ingest.Request) bool {
		return string(req.Body) == "main;work 3\n"
	})).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newAgent(t, b, c,
		WithReportInterval(time.Hour),
		WithReadyNotifier(cancel),
		withClock(clock(1000, 1004)),
	)

	require.NoError(t, a.Run(ctx))
	b.AssertExpectations(t)
	c.AssertExpectations(t)
}

func TestRunStartFailure(t *testing.T) {
	b := new(MockBackend)
	b.On("State").Return(backend.Ready).Once()
	b.On("Start").Return(backend.ErrSamplerStart).Once()

	ready := false
	a := newAgent(t, b, new(MockIngester), WithReadyNotifier(func() { ready = true }))

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrSamplerStart)
	assert.False(t, ready)
	b.AssertNotCalled(t, "Initialize")
}

func TestMetrics(t *testing.T) {
	b := new(MockBackend)
	b.On("Report").Return([]byte("a 1\n"), nil).Once()
	b.On("Report").Return([]byte{}, nil).Once()
	c := new(MockIngester)
	c.On("Ingest", mock.Anything).Return(nil).Once()

	reg := prometheus.NewRegistry()
	a := newAgent(t, b, c,
		WithMetrics(reg, ""),
		withClock(clock(1001, 1002)),
	)
	a.windowStarted = time.Unix(1000, 0)

	require.NoError(t, a.Cycle(context.Background()))
	require.NoError(t, a.Cycle(context.Background()))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, l := range m.GetLabel() {
				name += "/" + l.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				values[name] = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				values[name] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}

	assert.Equal(t, 2.0, values["pyrospy_report_cycles_total"])
	assert.Equal(t, 4.0, values["pyrospy_reported_bytes_total"])
	assert.Equal(t, 1.0, values["pyrospy_ingest_requests_total/success"])
	assert.Equal(t, 1.0, values["pyrospy_ingest_requests_total/skipped"])
	assert.Equal(t, 2.0, values["pyrospy_report_duration_seconds"])

	// Registering twice on the same registry fails.
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}
