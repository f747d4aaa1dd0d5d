// Package metrics exposes the prometheus collectors of the relayer core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/smartcontractkit/chainlink-relayer-framework/operations"
)

const namespace = "relayer"

// Metrics records driver lifecycle events as prometheus metrics. Operations are labelled by their
// (destination, app_context) pair.
type Metrics struct {
	operationsProcessed *prometheus.CounterVec
	queueLength         *prometheus.GaugeVec
}

// Metrics implements operations.MetricsRecorder interface.
var _ operations.MetricsRecorder = &Metrics{}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operationsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_processed_total",
			Help:      "Number of lifecycle calls by phase and resulting action.",
		}, []string{"destination", "app_context", "phase", "action"}),
		queueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operation_queue_length",
			Help:      "Number of operations waiting in a driver queue.",
		}, []string{"destination", "phase"}),
	}

	for _, c := range []prometheus.Collector{m.operationsProcessed, m.queueLength} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// ObserveResult counts the outcome of a lifecycle call.
func (m *Metrics) ObserveResult(destination, appContext string, phase operations.Phase, action operations.Action) {
	m.operationsProcessed.WithLabelValues(destination, appContext, phase.String(), action.String()).Inc()
}

// SetQueueLength reports the length of a driver queue.
func (m *Metrics) SetQueueLength(destination string, phase operations.Phase, length int) {
	m.queueLength.WithLabelValues(destination, phase.String()).Set(float64(length))
}
