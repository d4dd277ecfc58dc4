// Package agent runs the export loop of a profiling backend: it collects a
// profile on a fixed cadence and ships it to the collector.
package agent

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/maxgio92/pyrospy/internal/output"
	"github.com/maxgio92/pyrospy/pkg/backend"
	"github.com/maxgio92/pyrospy/pkg/ingest"
	"github.com/maxgio92/pyrospy/pkg/tags"
)

const (
	DefaultReportInterval = 10 * time.Second

	flushTimeout      = 5 * time.Second
	statusRefreshRate = time.Second
)

var (
	ErrNoBackend = errors.New("no backend specified")
	// ErrReport is matched by cycle errors after which profiling can't go on.
	ErrReport = errors.New("failed to collect profile")
)

type reportError struct {
	err error
}

func (e *reportError) Error() string {
	return ErrReport.Error() + ": " + e.err.Error()
}

func (e *reportError) Is(target error) bool {
	return target == ErrReport
}

func (e *reportError) Unwrap() error {
	return e.err
}

// Ingester delivers profiles, i.e. *ingest.Client.
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) error
}

type queueReporter interface {
	QueueUsage() (int, int)
}

type closer interface {
	Close() error
}

type Agent struct {
	backend backend.Backend
	client  Ingester

	appName   string
	tags      map[string]string
	interval  time.Duration
	alignment time.Duration
	status    bool

	registry    *prometheus.Registry
	metricsAddr string
	metrics     *Metrics

	notifyReady func()
	now         func() time.Time
	logger      log.Logger

	cycles        atomic.Uint64
	ingestErrors  atomic.Uint64
	lastBytes     atomic.Int64
	windowStarted time.Time
}

func New(b backend.Backend, client Ingester, opts ...Option) (*Agent, error) {
	if b == nil {
		return nil, ErrNoBackend
	}

	a := &Agent{
		backend:   b,
		client:    client,
		interval:  DefaultReportInterval,
		alignment: ingest.DefaultAlignment,
		now:       time.Now,
		logger:    log.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.appName == "" {
		return nil, ingest.ErrNoAppName
	}
	if a.interval <= 0 {
		a.interval = DefaultReportInterval
	}
	a.logger = a.logger.With().Str("component", "agent").Logger()

	if a.registry != nil {
		var err error
		if a.metrics, err = NewMetrics(a.registry); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// Name returns the application key profiles are ingested under.
func (a *Agent) Name() string {
	return tags.Merge(a.appName, a.tags)
}

// Run starts the backend and runs report cycles until ctx is done. The
// last window is flushed before the backend is stopped.
func (a *Agent) Run(ctx context.Context) error {
	if a.backend.State() == backend.Uninitialized {
		if err := a.backend.Initialize(); err != nil {
			return errors.Wrap(err, "failed to initialize backend")
		}
	}
	if err := a.backend.Start(); err != nil {
		return errors.Wrap(err, "failed to start backend")
	}
	a.windowStarted = a.now()

	a.logger.Info().
		Str("name", a.Name()).
		Str("spy", a.backend.SpyName()).
		Uint32("sample_rate", a.backend.SampleRate()).
		Dur("interval", a.interval).
		Msg("profiling started")

	if a.notifyReady != nil {
		a.notifyReady()
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.registry != nil && a.metricsAddr != "" {
		srv := &http.Server{
			Addr:    a.metricsAddr,
			Handler: a.metricsHandler(),
		}
		g.Go(func() error {
			return a.serveMetrics(ctx, srv)
		})
	}
	if a.status {
		g.Go(func() error {
			output.StatusBar(ctx, statusRefreshRate, a.printStatus)
			return nil
		})
	}
	g.Go(func() error {
		return a.loop(ctx)
	})

	return g.Wait()
}

func (a *Agent) loop(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return a.shutdown()
		case <-ticker.C:
			if err := a.Cycle(ctx); err != nil && errors.Is(err, ErrReport) {
				stopErr := a.stop()
				if stopErr != nil {
					a.logger.Warn().Err(stopErr).Msg("error stopping backend")
				}
				return err
			}
		}
	}
}

// Cycle collects the profile of the current window and ingests it.
// Ingestion failures are logged and returned, but are not fatal.
func (a *Agent) Cycle(ctx context.Context) error {
	start := a.now()
	timer := a.startTimer()
	defer timer()

	a.cycles.Add(1)
	a.count(func(m *Metrics) { m.cycles.Inc() })
	a.observeQueue()

	body, err := a.backend.Report()
	if err != nil {
		a.count(func(m *Metrics) { m.reportErrors.Inc() })
		a.logger.Error().Err(err).Msg("error collecting profile")
		return &reportError{err: err}
	}

	window := a.window(a.windowStarted, start)
	a.windowStarted = start
	a.lastBytes.Store(int64(len(body)))
	a.count(func(m *Metrics) { m.reportedBytes.Add(float64(len(body))) })

	if len(body) == 0 {
		a.count(func(m *Metrics) { m.ingests.WithLabelValues(resultSkipped).Inc() })
		return nil
	}

	err = a.client.Ingest(ctx, ingest.Request{
		Name:       a.Name(),
		Window:     window,
		SampleRate: a.backend.SampleRate(),
		SpyName:    a.backend.SpyName(),
		Body:       body,
	})
	if err != nil {
		a.ingestErrors.Add(1)
		a.count(func(m *Metrics) { m.ingests.WithLabelValues(resultFailure).Inc() })
		a.logger.Error().Err(err).Msg("error ingesting profile")
		return err
	}
	a.count(func(m *Metrics) { m.ingests.WithLabelValues(resultSuccess).Inc() })

	return nil
}

// window returns the aligned window starting at start while the cycle
// fits in it, and the measured one otherwise. Ticker jitter up to a
// tenth of the report interval still counts as fitting.
func (a *Agent) window(start, end time.Time) ingest.Window {
	if a.alignment > 0 && end.Sub(start) <= a.alignment+a.interval/10 {
		return ingest.AlignedWindow(start, a.alignment)
	}
	if a.alignment > 0 {
		a.logger.Warn().
			Dur("elapsed", end.Sub(start)).
			Dur("alignment", a.alignment).
			Msg("report cycle exceeded the window alignment, sending the measured window")
	}

	return ingest.MeasuredWindow(start, end)
}

func (a *Agent) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := a.Cycle(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("error flushing last profile")
	}

	err := a.stop()
	a.logger.Info().Uint64("cycles", a.cycles.Load()).Msg("profiling stopped")

	return err
}

func (a *Agent) stop() error {
	err := a.backend.Stop()
	if c, ok := a.backend.(closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return errors.Wrap(err, "failed to stop backend")
	}

	return nil
}

func (a *Agent) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	return mux
}

func (a *Agent) serveMetrics(ctx context.Context, srv *http.Server) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", srv.Addr)
	}
	a.logger.Debug().Str("address", ln.Addr().String()).Msg("serving metrics")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server failed")
	}

	return nil
}

func (a *Agent) count(f func(m *Metrics)) {
	if a.metrics != nil {
		f(a.metrics)
	}
}

func (a *Agent) startTimer() func() {
	if a.metrics == nil {
		return func() {}
	}
	t := prometheus.NewTimer(a.metrics.duration)
	return func() { t.ObserveDuration() }
}

func (a *Agent) queueUsage() (int, int) {
	if q, ok := a.backend.(queueReporter); ok {
		return q.QueueUsage()
	}
	return 0, 0
}

func (a *Agent) observeQueue() {
	used, _ := a.queueUsage()
	a.count(func(m *Metrics) { m.queued.Set(float64(used)) })
}

func (a *Agent) printStatus() {
	used, capacity := a.queueUsage()
	util := 0
	if capacity > 0 {
		util = used * 100 / capacity
	}
	output.PrintRight(output.PrettyProfileStatus(
		a.cycles.Load(),
		a.lastBytes.Load(),
		a.ingestErrors.Load(),
		util,
	))
}
