package agent

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pyrospy"

const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultSkipped = "skipped"
)

// Metrics are the self-telemetry of the agent.
type Metrics struct {
	cycles        prometheus.Counter
	reportErrors  prometheus.Counter
	reportedBytes prometheus.Counter
	ingests       *prometheus.CounterVec
	duration      prometheus.Histogram
	queued        prometheus.Gauge
}

// NewMetrics creates the agent metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_cycles_total",
			Help:      "Total number of report cycles run",
		}),
		reportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_errors_total",
			Help:      "Total number of report cycles that failed to collect a profile",
		}),
		reportedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reported_bytes_total",
			Help:      "Total size of the folded profiles collected",
		}),
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_requests_total",
			Help:      "Ingestion attempts by result",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_duration_seconds",
			Help:      "Time spent collecting and ingesting a profile",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_traces",
			Help:      "Stack traces buffered between the sampler and the backend",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.cycles, m.reportErrors, m.reportedBytes, m.ingests, m.duration, m.queued,
	} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "error registering agent metrics")
		}
	}

	return m, nil
}
