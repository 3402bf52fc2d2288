package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roomie"

// Metrics holds the domain collectors: gateway calls, verification flows,
// identity subscriptions and notification delivery.
type Metrics struct {
	GatewayCalls        *prometheus.CounterVec
	GatewayLatency      *prometheus.HistogramVec
	FlowTransitions     *prometheus.CounterVec
	ActiveSubscriptions prometheus.Gauge
	NotificationErrors  *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg (DefaultRegisterer when nil).
// Collectors that are already registered are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		GatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Identity gateway calls partitioned by operation and provider error code (empty on success).",
		}, []string{"operation", "code"}),
		GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Identity gateway call latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		FlowTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "transitions_total",
			Help:      "Verification flow state transitions partitioned by target state.",
		}, []string{"state"}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active_subscriptions",
			Help:      "Identity-change subscriptions currently registered.",
		}),
		NotificationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "delivery_errors_total",
			Help:      "Notification requests the message bus failed to accept, by topic.",
		}, []string{"topic"}),
	}

	var err error
	if m.GatewayCalls, err = Register(reg, m.GatewayCalls); err != nil {
		return nil, err
	}
	if m.GatewayLatency, err = Register(reg, m.GatewayLatency); err != nil {
		return nil, err
	}
	if m.FlowTransitions, err = Register(reg, m.FlowTransitions); err != nil {
		return nil, err
	}
	if m.ActiveSubscriptions, err = Register(reg, m.ActiveSubscriptions); err != nil {
		return nil, err
	}
	if m.NotificationErrors, err = Register(reg, m.NotificationErrors); err != nil {
		return nil, err
	}
	return m, nil
}

// Register registers c with reg, returning the collector already registered
// under the same descriptor when there is one.
func Register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return c, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(C)
		if !ok {
			return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}

// ObserveGatewayCall records one gateway call. code is empty for successes.
func (m *Metrics) ObserveGatewayCall(operation, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.GatewayCalls.WithLabelValues(operation, code).Inc()
	m.GatewayLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveTransition counts a verification flow entering state.
func (m *Metrics) ObserveTransition(state string) {
	if m == nil {
		return
	}
	m.FlowTransitions.WithLabelValues(state).Inc()
}

// SubscriptionAdded and SubscriptionRemoved track live identity subscriptions.
func (m *Metrics) SubscriptionAdded() {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.Inc()
}

func (m *Metrics) SubscriptionRemoved() {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.Dec()
}

// NotificationFailed counts a failed delivery on topic.
func (m *Metrics) NotificationFailed(topic string) {
	if m == nil {
		return
	}
	m.NotificationErrors.WithLabelValues(topic).Inc()
}
