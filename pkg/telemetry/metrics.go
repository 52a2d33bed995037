package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus primitives for the event outbox relay.
type Metrics struct {
	outboxDispatch     *prometheus.CounterVec
	outboxDispatchTime *prometheus.HistogramVec
	outboxRelayed      prometheus.Counter
	outboxBacklog      prometheus.Gauge
	handlerDuration    *prometheus.HistogramVec
	handlerErrors      *prometheus.CounterVec
}

// NewMetrics registers and returns the outbox metrics on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	outboxDispatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "repairpay_outbox_dispatch_total",
		Help: "Counts relay batches by status.",
	}, []string{"status"})

	outboxDispatchTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "repairpay_outbox_dispatch_duration_seconds",
		Help:    "Relay batch durations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	outboxRelayed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repairpay_outbox_relayed_events_total",
		Help: "Events handed to subscribers by the relay sweep.",
	})

	outboxBacklog := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "repairpay_outbox_backlog",
		Help: "Number of unpublished events seen by the last sweep.",
	})

	handlerDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "repairpay_event_handler_duration_seconds",
		Help:    "Event fan-out durations by event type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type", "status"})

	handlerErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "repairpay_event_handler_errors_total",
		Help: "Counts fan-out failures by event type.",
	}, []string{"event_type"})

	registerer.MustRegister(
		outboxDispatch,
		outboxDispatchTime,
		outboxRelayed,
		outboxBacklog,
		handlerDuration,
		handlerErrors,
	)

	return &Metrics{
		outboxDispatch:     outboxDispatch,
		outboxDispatchTime: outboxDispatchTime,
		outboxRelayed:      outboxRelayed,
		outboxBacklog:      outboxBacklog,
		handlerDuration:    handlerDuration,
		handlerErrors:      handlerErrors,
	}
}

// RecordOutboxBatch registers relay batch metrics.
func (m *Metrics) RecordOutboxBatch(status string, count int, duration time.Duration) {
	if m == nil {
		return
	}
	status = sanitizeLabel(status)
	m.outboxDispatch.WithLabelValues(status).Inc()
	m.outboxDispatchTime.WithLabelValues(status).Observe(duration.Seconds())
	if count > 0 && status == "success" {
		m.outboxRelayed.Add(float64(count))
	}
}

// SetOutboxBacklog updates the backlog gauge.
func (m *Metrics) SetOutboxBacklog(value float64) {
	if m == nil {
		return
	}
	m.outboxBacklog.Set(value)
}

// RecordHandler observes the fan-out of one event.
func (m *Metrics) RecordHandler(eventType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	eventType = sanitizeLabel(eventType)
	m.handlerDuration.WithLabelValues(eventType, status).Observe(duration.Seconds())
	if status != "success" {
		m.handlerErrors.WithLabelValues(eventType).Inc()
	}
}

func sanitizeLabel(val string) string {
	if val == "" {
		return "unknown"
	}
	return val
}
