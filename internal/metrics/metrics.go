// Package metrics exposes pipeline and provider counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Entity outcomes per phase
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
	OutcomePassed  = "passed"
)

// Pipeline phases
const (
	PhaseScreen = "screen"
	PhaseEnrich = "enrich"
	PhaseScore  = "score"
)

// Recorder records pipeline metrics. A nil *Recorder is a valid no-op.
type Recorder struct {
	gatherer prometheus.Gatherer

	entities        *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	providerCalls   *prometheus.CounterVec
	outliersRemoved *prometheus.CounterVec
	tierEntities    *prometheus.GaugeVec
}

// New registers the metrics on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		entities: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dilution_pipeline_entities_total",
				Help: "Entities processed by pipeline phase and outcome",
			},
			[]string{"phase", "outcome"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dilution_pipeline_run_duration_seconds",
				Help:    "Duration of pipeline runs in seconds",
				Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
			},
			[]string{"mode"},
		),
		providerCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dilution_provider_requests_total",
				Help: "Requests to external data providers by status",
			},
			[]string{"provider", "status"},
		),
		outliersRemoved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dilution_outliers_removed_total",
				Help: "Values excluded by the outlier filter",
			},
			[]string{"series"},
		),
		tierEntities: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dilution_tier_entities",
				Help: "Entities per tier after the latest tiering pass",
			},
			[]string{"tier"},
		),
	}
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Recorder) EntityProcessed(phase, outcome string) {
	if r == nil {
		return
	}
	r.entities.WithLabelValues(phase, outcome).Inc()
}

func (r *Recorder) RunFinished(mode string, seconds float64) {
	if r == nil {
		return
	}
	r.runDuration.WithLabelValues(mode).Observe(seconds)
}

func (r *Recorder) ProviderRequest(provider, status string) {
	if r == nil {
		return
	}
	r.providerCalls.WithLabelValues(provider, status).Inc()
}

func (r *Recorder) OutliersRemoved(series string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.outliersRemoved.WithLabelValues(series).Add(float64(n))
}

// TierCounts replaces the per-tier gauges
func (r *Recorder) TierCounts(counts map[string]int) {
	if r == nil {
		return
	}
	for tier, n := range counts {
		r.tierEntities.WithLabelValues(tier).Set(float64(n))
	}
}
