package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Events    *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	Anomalies *prometheus.CounterVec
	Refunds   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tumi_webhook_events_total",
			Help: "Stripe webhook events by type and outcome",
		}, []string{"type", "outcome"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tumi_webhook_event_duration_seconds",
			Help:    "Time spent reconciling one Stripe event",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		Anomalies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tumi_webhook_anomalies_total",
			Help: "Activity log entries written by the webhook, by message",
		}, []string{"message"}),
		Refunds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tumi_webhook_refunds_total",
			Help: "Refunds issued for moved registrations, by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) observeEvent(eventType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(eventType, outcome).Inc()
	m.Duration.WithLabelValues(eventType).Observe(d.Seconds())
}

func (m *Metrics) observeAnomaly(message string) {
	if m == nil {
		return
	}
	m.Anomalies.WithLabelValues(message).Inc()
}

func (m *Metrics) observeRefund(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.Refunds.WithLabelValues(result).Inc()
}
