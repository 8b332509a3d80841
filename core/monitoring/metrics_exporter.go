package monitoring

import (
	"errors"
	"time"

	"llm-endpoint-orchestrator/core/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsExporter exports service and provisioning metrics for Prometheus.
// A nil *MetricsExporter is valid and records nothing.
type MetricsExporter struct {
	configureTotal    *prometheus.CounterVec
	inferenceTotal    *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec
	modelLoaded       prometheus.Gauge
	chainPolls        *prometheus.CounterVec
}

// NewMetricsExporter registers the collectors with reg
func NewMetricsExporter(reg prometheus.Registerer) *MetricsExporter {
	factory := promauto.With(reg)

	return &MetricsExporter{
		configureTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_configure_total",
			Help: "Configure calls by result",
		}, []string{"result"}),
		inferenceTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_inference_total",
			Help: "Inference calls by output mode and result",
		}, []string{"mode", "result"}),
		inferenceDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_inference_duration_seconds",
			Help:    "Time to produce a complete response or open a stream",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"mode"}),
		modelLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "llm_model_loaded",
			Help: "1 when a model instance is loaded",
		}),
		chainPolls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "provisioning_chain_polls_total",
			Help: "Chain completion polls by observed result",
		}, []string{"result"}),
	}
}

// ObserveConfigure records the outcome of a configure call
func (me *MetricsExporter) ObserveConfigure(err error) {
	if me == nil {
		return
	}
	me.configureTotal.WithLabelValues(ResultLabel(err)).Inc()
}

// ObserveInference records the outcome and latency of an inference call
func (me *MetricsExporter) ObserveInference(mode string, start time.Time, err error) {
	if me == nil {
		return
	}
	me.inferenceTotal.WithLabelValues(mode, ResultLabel(err)).Inc()
	me.inferenceDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

// SetModelLoaded flips the loaded-model gauge
func (me *MetricsExporter) SetModelLoaded(loaded bool) {
	if me == nil {
		return
	}
	if loaded {
		me.modelLoaded.Set(1)
	} else {
		me.modelLoaded.Set(0)
	}
}

// ObserveChainPoll records what a completion poll saw
func (me *MetricsExporter) ObserveChainPoll(result string) {
	if me == nil {
		return
	}
	me.chainPolls.WithLabelValues(result).Inc()
}

// ResultLabel maps an error to a low-cardinality metric label
func ResultLabel(err error) string {
	var (
		cfgErr      *models.ConfigurationError
		notCfgErr   *models.NotConfiguredError
		badReqErr   *models.BadRequestError
		fetchErr    *models.DownstreamFetchError
		chainFailed *models.ChainJobFailure
	)

	switch {
	case err == nil:
		return "success"
	case errors.As(err, &cfgErr):
		return "configuration_error"
	case errors.As(err, &notCfgErr):
		return "not_configured"
	case errors.As(err, &badReqErr):
		return "bad_request"
	case errors.As(err, &fetchErr):
		return "fetch_error"
	case errors.As(err, &chainFailed):
		return "chain_failed"
	default:
		return "error"
	}
}
