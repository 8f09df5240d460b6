package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event outcomes recorded by ObserveEvent.
const (
	OutcomeDelivered = "delivered"
	OutcomeUnsafe    = "unsafe"
	OutcomeNoRequest = "no_request"
	OutcomeFailed    = "failed"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Metrics provides observability for replication triggers.
type Metrics struct {
	Registrations       *prometheus.CounterVec
	Deregistrations     *prometheus.CounterVec
	ActiveSubscriptions prometheus.Gauge
	SessionAcquisitions *prometheus.CounterVec
	Events              *prometheus.CounterVec
	BatchDuration       prometheus.Histogram
}

// New creates trigger metrics registered on reg. A nil reg creates unregistered
// collectors, which keeps tests free of global registry collisions.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contentsync_trigger_registrations_total",
			Help: "Total number of handler registrations by result",
		}, []string{"result"}),
		Deregistrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contentsync_trigger_deregistrations_total",
			Help: "Total number of handler deregistrations by result",
		}, []string{"result"}),
		ActiveSubscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "contentsync_trigger_active_subscriptions",
			Help: "Number of handlers currently registered",
		}),
		SessionAcquisitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contentsync_trigger_session_acquisitions_total",
			Help: "Total number of session acquisitions against the content store by result",
		}, []string{"result"}),
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "contentsync_trigger_events_total",
			Help: "Total number of change events processed by outcome",
		}, []string{"outcome"}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "contentsync_trigger_batch_duration_seconds",
			Help:    "Duration of dispatching one delivered batch of change events",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
		}),
	}
}

func result(err error) string {
	if err != nil {
		return resultFailure
	}
	return resultSuccess
}

// ObserveRegistration records a registration attempt.
func (m *Metrics) ObserveRegistration(err error) {
	m.Registrations.WithLabelValues(result(err)).Inc()
}

// ObserveDeregistration records a deregistration attempt.
func (m *Metrics) ObserveDeregistration(err error) {
	m.Deregistrations.WithLabelValues(result(err)).Inc()
}

// SetActiveSubscriptions sets the registry size.
func (m *Metrics) SetActiveSubscriptions(n int) {
	m.ActiveSubscriptions.Set(float64(n))
}

// ObserveSessionAcquisition records one call to the session provider.
func (m *Metrics) ObserveSessionAcquisition(err error) {
	m.SessionAcquisitions.WithLabelValues(result(err)).Inc()
}

// ObserveEvent records the outcome of one processed event.
func (m *Metrics) ObserveEvent(outcome string) {
	m.Events.WithLabelValues(outcome).Inc()
}

// ObserveBatch records the duration of a batch dispatch.
// Call with time.Now() at the start of the batch.
func (m *Metrics) ObserveBatch(start time.Time) {
	m.BatchDuration.Observe(time.Since(start).Seconds())
}
