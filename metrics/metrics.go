package metrics

import (
	"errors"
	"time"

	"github.com/glimte/qbridge/messaging"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "qbridge"

	// Status label values for success/error metrics
	StatusSuccess = "success"
	StatusError   = "error"

	Put     = "put"
	Get     = "get"
	Session = "session"
)

// durationBuckets cover a confirm round trip up to a long get wait
var durationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Metrics records queue bridge activity. It implements
// messaging.MetricsCollector.
type Metrics struct {
	puts        *prometheus.CounterVec   // by queue, status
	putDuration *prometheus.HistogramVec // by queue

	getCycles        *prometheus.CounterVec   // by queue, outcome
	messagesReceived *prometheus.CounterVec   // by queue
	getDuration      *prometheus.HistogramVec // by queue

	sessionState       *prometheus.GaugeVec   // by queue
	sessionTransitions *prometheus.CounterVec // by queue, state
}

var _ messaging.MetricsCollector = (*Metrics)(nil)

// New creates a new Metrics instance and registers all metrics with the provided registerer.
// Returns an error if any metric registration fails.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Put,
			Name:      "total",
			Help:      "Total puts by queue and status",
		}, []string{"queue", "status"}),
		putDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Put,
			Name:      "duration_seconds",
			Help:      "Put duration including the broker confirm",
			Buckets:   durationBuckets,
		}, []string{"queue"}),
		getCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Get,
			Name:      "cycles_total",
			Help:      "Total receive cycles by queue and outcome",
		}, []string{"queue", "outcome"}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Get,
			Name:      "messages_total",
			Help:      "Total messages received by queue",
		}, []string{"queue"}),
		getDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Get,
			Name:      "cycle_duration_seconds",
			Help:      "Receive cycle duration including waits",
			Buckets:   durationBuckets,
		}, []string{"queue"}),
		sessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Session,
			Name:      "state",
			Help:      "Current session state (0 closed, 1 connecting, 2 open, 3 closing, 4 failed)",
		}, []string{"queue"}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Session,
			Name:      "transitions_total",
			Help:      "Total session state transitions by target state",
		}, []string{"queue", "state"}),
	}

	err := errors.Join(
		reg.Register(m.puts),
		reg.Register(m.putDuration),
		reg.Register(m.getCycles),
		reg.Register(m.messagesReceived),
		reg.Register(m.getDuration),
		reg.Register(m.sessionState),
		reg.Register(m.sessionTransitions),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordPut records one put attempt
func (m *Metrics) RecordPut(queue string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	m.puts.WithLabelValues(queue, status).Inc()
	m.putDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// RecordGet records one receive cycle
func (m *Metrics) RecordGet(queue string, outcome string, messages int, duration time.Duration) {
	if m == nil {
		return
	}
	m.getCycles.WithLabelValues(queue, outcome).Inc()
	if messages > 0 {
		m.messagesReceived.WithLabelValues(queue).Add(float64(messages))
	}
	m.getDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// RecordSessionState records a session state transition
func (m *Metrics) RecordSessionState(queue string, state messaging.SessionState) {
	if m == nil {
		return
	}
	m.sessionState.WithLabelValues(queue).Set(float64(state))
	m.sessionTransitions.WithLabelValues(queue, state.String()).Inc()
}
