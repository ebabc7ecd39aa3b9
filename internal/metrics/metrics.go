package metrics

import (
	"context"
	"fmt"
	"time"

	"mediasync/internal/conf"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// ProviderSet is metrics providers.
var ProviderSet = wire.NewSet(NewMetrics)

// Metrics holds the sync engine metrics. A batch job has no scrape endpoint, so the registry is
// pushed to a Pushgateway at the end of every run.
type Metrics struct {
	// Media record outcomes
	RecordsTotal *prometheus.CounterVec

	// Role outcomes
	RolesTotal *prometheus.CounterVec

	// Batch outcomes
	BatchesTotal *prometheus.CounterVec

	// Storage contention retries
	RetriesTotal prometheus.Counter

	// Trailer lookups
	TrailersTotal *prometheus.CounterVec

	// Stream durations
	StreamDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
	pushURL  string
	job      string
}

// NewMetrics creates the metrics on a private registry.
func NewMetrics(c *conf.Metrics) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediasync_records_total",
				Help: "Media records processed by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		RolesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediasync_roles_total",
				Help: "Roles reconciled by outcome",
			},
			[]string{"outcome"},
		),
		BatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediasync_batches_total",
				Help: "Batches written by kind and status",
			},
			[]string{"kind", "status"},
		),
		RetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mediasync_storage_retries_total",
				Help: "Storage operations retried after lock contention",
			},
		),
		TrailersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mediasync_trailers_total",
				Help: "Trailer lookups by result",
			},
			[]string{"result"},
		),
		StreamDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mediasync_stream_duration_seconds",
				Help:    "Duration of sync streams in seconds",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"stream", "status"},
		),
		registry: reg,
	}
	reg.MustRegister(m.RecordsTotal, m.RolesTotal, m.BatchesTotal, m.RetriesTotal, m.TrailersTotal, m.StreamDurationSeconds)
	if c != nil {
		m.pushURL = c.PushURL
		m.job = c.Job
	}
	return m
}

// Registry exposes the private registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStream records how long a stream took.
func (m *Metrics) ObserveStream(stream string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.StreamDurationSeconds.WithLabelValues(stream, status).Observe(time.Since(start).Seconds())
}

// Push sends the registry to the Pushgateway. It is a no-op without a configured URL.
func (m *Metrics) Push(ctx context.Context) error {
	if m.pushURL == "" {
		return nil
	}
	err := push.New(m.pushURL, m.job).
		Gatherer(m.registry).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
