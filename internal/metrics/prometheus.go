package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	// Session metrics
	RequestsStarted  prometheus.Counter
	RequestsFinished *prometheus.CounterVec
	RequestDuration  prometheus.Histogram
	AudioDuration    prometheus.Histogram
	Busy             prometheus.Gauge

	// Inference boundary metrics
	Events      *prometheus.CounterVec
	StaleEvents prometheus.Counter

	// Model metrics
	ModelLoads        *prometheus.CounterVec
	ModelLoadDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with reg. A fresh registry is
// created when reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_transcription_requests_total",
			Help: "Total number of transcription requests started",
		}),
		RequestsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_transcription_finished_total",
			Help: "Total number of transcription requests finished, by outcome",
		}, []string{"outcome"}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_transcription_duration_seconds",
			Help:    "Wall time from start to completion of a transcription",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17 minutes
		}),
		AudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_audio_duration_seconds",
			Help:    "Length of submitted audio",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		Busy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whisper_session_busy",
			Help: "1 while a transcription is in flight",
		}),

		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_worker_events_total",
			Help: "Worker events applied to the session, by kind",
		}, []string{"kind"}),
		StaleEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_worker_stale_events_total",
			Help: "Worker events discarded because they belonged to a superseded request",
		}),

		ModelLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_model_loads_total",
			Help: "Total number of model pipeline loads, by engine",
		}, []string{"engine"}),
		ModelLoadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_model_load_duration_seconds",
			Help:    "Time spent loading model pipelines",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3 minutes
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whisper_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler exposes the registry for scraping
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequestStarted counts a started request and its audio length
func (m *Metrics) RecordRequestStarted(audioSeconds float64) {
	if m == nil {
		return
	}
	m.RequestsStarted.Inc()
	m.AudioDuration.Observe(audioSeconds)
	m.Busy.Set(1)
}

// RecordRequestFinished counts a finished request. outcome is "complete",
// "error" or "reset".
func (m *Metrics) RecordRequestFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsFinished.WithLabelValues(outcome).Inc()
	m.RequestDuration.Observe(duration.Seconds())
	m.Busy.Set(0)
}

// RecordEvent counts an applied worker event
func (m *Metrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(kind).Inc()
}

// RecordStaleEvent counts a discarded event
func (m *Metrics) RecordStaleEvent() {
	if m == nil {
		return
	}
	m.StaleEvents.Inc()
}

// RecordModelLoad counts a pipeline load
func (m *Metrics) RecordModelLoad(engine string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ModelLoads.WithLabelValues(engine).Inc()
	m.ModelLoadDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
