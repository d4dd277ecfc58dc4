package agent

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/rs/zerolog"
)

type Option func(*Agent)

func WithAppName(name string) Option {
	return func(a *Agent) {
		a.appName = name
	}
}

func WithTags(tags map[string]string) Option {
	return func(a *Agent) {
		a.tags = tags
	}
}

// WithReportInterval sets the cadence of the report cycles.
func WithReportInterval(interval time.Duration) Option {
	return func(a *Agent) {
		a.interval = interval
	}
}

// WithAlignment sets the width the ingestion windows are aligned to. Zero
// always sends the measured window.
func WithAlignment(alignment time.Duration) Option {
	return func(a *Agent) {
		a.alignment = alignment
	}
}

func WithLogger(logger log.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// WithMetrics registers the agent metrics on reg. With a non-empty addr,
// they are also served on http://addr/metrics.
func WithMetrics(reg *prometheus.Registry, addr string) Option {
	return func(a *Agent) {
		a.registry = reg
		a.metricsAddr = addr
	}
}

// WithReadyNotifier sets a function called once the backend is running.
func WithReadyNotifier(notify func()) Option {
	return func(a *Agent) {
		a.notifyReady = notify
	}
}

// WithStatus periodically prints a status line on the terminal.
func WithStatus(status bool) Option {
	return func(a *Agent) {
		a.status = status
	}
}

func withClock(now func() time.Time) Option {
	return func(a *Agent) {
		a.now = now
	}
}
