// Package metrics exposes the pipeline's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus metrics for the recommendation pipeline.
type Registry struct {
	// Ingestion metrics
	IngestedItems    *prometheus.CounterVec
	IngestFailures   *prometheus.CounterVec
	IngestThroughput prometheus.Gauge
	TasksByState     *prometheus.GaugeVec

	// Batch pipeline metrics
	StepDuration     *prometheus.HistogramVec
	SignalsPublished *prometheus.CounterVec
	TickerFailures   *prometheus.CounterVec

	// External capability metrics
	CapabilityLatency *prometheus.HistogramVec

	// Feedback metrics
	FeedbackRecorded *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
}

// NewRegistry creates and registers all pipeline metrics.
func NewRegistry() *Registry {
	r := &Registry{
		IngestedItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idxpulse_ingested_items_total",
				Help: "Total evidence items ingested by media kind",
			},
			[]string{"kind"},
		),
		IngestFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idxpulse_ingest_failures_total",
				Help: "Total ingestion failures by class",
			},
			[]string{"class"},
		),
		IngestThroughput: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "idxpulse_ingest_throughput_items_per_minute",
				Help: "Current ingestion throughput in items per minute",
			},
		),
		TasksByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "idxpulse_ingest_tasks",
				Help: "Ingestion tasks by state",
			},
			[]string{"state"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idxpulse_step_duration_seconds",
				Help:    "Duration of each batch pipeline step in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"step", "result"},
		),
		SignalsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idxpulse_signals_published_total",
				Help: "Total trade signals published by direction",
			},
			[]string{"direction"},
		),
		TickerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idxpulse_ticker_failures_total",
				Help: "Total per-ticker batch failures by stage",
			},
			[]string{"stage"},
		),
		CapabilityLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idxpulse_capability_latency_seconds",
				Help:    "Latency of external capability calls",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"capability", "result"},
		),
		FeedbackRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idxpulse_feedback_recorded_total",
				Help: "Total feedback records by verdict",
			},
			[]string{"verdict"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "idxpulse_retraining_queue_depth",
				Help: "Undelivered records in the retraining queue",
			},
		),
	}

	prometheus.MustRegister(
		r.IngestedItems,
		r.IngestFailures,
		r.IngestThroughput,
		r.TasksByState,
		r.StepDuration,
		r.SignalsPublished,
		r.TickerFailures,
		r.CapabilityLatency,
		r.FeedbackRecorded,
		r.QueueDepth,
	)
	log.Info().Msg("Prometheus metrics registry initialized")
	return r
}

// StepTimer tracks execution time for a batch pipeline step.
type StepTimer struct {
	registry *Registry
	step     string
	start    time.Time
}

// StartStep begins timing a pipeline step.
func (r *Registry) StartStep(step string) *StepTimer {
	return &StepTimer{registry: r, step: step, start: time.Now()}
}

// Stop records the elapsed step duration.
func (t *StepTimer) Stop(result string) {
	t.registry.StepDuration.WithLabelValues(t.step, result).Observe(time.Since(t.start).Seconds())
}

// IngestedTotal sums the ingested-items counter across media kinds.
func (r *Registry) IngestedTotal() float64 {
	total := 0.0
	metric := &dto.Metric{}
	for _, kind := range []string{"video", "news", "social", "pdf"} {
		counter, err := r.IngestedItems.GetMetricWithLabelValues(kind)
		if err != nil {
			continue
		}
		if err := counter.Write(metric); err == nil {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

// Handler returns the /metrics HTTP handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
