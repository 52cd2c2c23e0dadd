package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	UpdatesTotal     *prometheus.CounterVec
	UpdateDuration   *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	XAIRequestsTotal   *prometheus.CounterVec
	XAIRequestDuration prometheus.Histogram

	ValidationErrorsTotal *prometheus.CounterVec

	ActiveSessions prometheus.GaugeFunc

	factory promauto.Factory
}

// New регистрирует метрики в registerer. nil - глобальный реестр prometheus.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		UpdatesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livesearch_bot_updates_total",
				Help: "Total number of telegram updates processed",
			},
			[]string{"type", "status"},
		),
		UpdateDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "livesearch_bot_update_duration_seconds",
				Help:    "Update handling duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"type"},
		),
		RequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "livesearch_bot_xai_requests_in_flight",
				Help: "Number of xAI requests currently waiting for a reply",
			},
		),

		XAIRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livesearch_bot_xai_requests_total",
				Help: "Total number of xAI chat completion requests",
			},
			[]string{"status"},
		),
		XAIRequestDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "livesearch_bot_xai_request_duration_seconds",
				Help:    "xAI request duration in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),

		ValidationErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livesearch_bot_validation_errors_total",
				Help: "Send attempts rejected before contacting the API",
			},
			[]string{"reason"},
		),

		factory: f,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) RecordUpdate(updType, status string, duration time.Duration) {
	m.UpdatesTotal.WithLabelValues(updType, status).Inc()
	m.UpdateDuration.WithLabelValues(updType).Observe(duration.Seconds())
}

// RecordXAIRequest: statusCode == 0 значит до ответа дело не дошло.
func (m *Metrics) RecordXAIRequest(statusCode int, duration time.Duration) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode/100) + "xx"
	}
	m.XAIRequestsTotal.WithLabelValues(status).Inc()
	m.XAIRequestDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordValidationError(reason string) {
	m.ValidationErrorsTotal.WithLabelValues(reason).Inc()
}

// TrackActiveSessions регистрирует gauge, который при каждом scrape спрашивает
// count. Вызывать один раз.
func (m *Metrics) TrackActiveSessions(count func() int) {
	m.ActiveSessions = m.factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "livesearch_bot_active_sessions",
			Help: "Number of chat sessions held in memory",
		},
		func() float64 { return float64(count()) },
	)
}

func (m *Metrics) IncRequestsInFlight() {
	m.RequestsInFlight.Inc()
}

func (m *Metrics) DecRequestsInFlight() {
	m.RequestsInFlight.Dec()
}
