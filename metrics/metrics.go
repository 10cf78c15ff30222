package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "gbsip"
)

// Metrics 每个 provider 实例持有一份, 不使用全局变量
type Metrics struct {
	MessagesReceived    *prometheus.CounterVec
	MessagesSent        *prometheus.CounterVec
	ParseErrors         prometheus.Counter
	Retransmissions     *prometheus.CounterVec
	TransactionTimeouts *prometheus.CounterVec
	AuthRetries         prometheus.Counter
	Transactions        *prometheus.GaugeVec
	Dialogs             *prometheus.GaugeVec
	Listeners           prometheus.Gauge
	Connections         prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "messages_received_total",
			Help:      "SIP messages received, by kind (request method or response class)",
		}, []string{"kind"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "messages_sent_total",
			Help:      "SIP messages sent, by kind (request method or response class)",
		}, []string{"kind"}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "parse_errors_total",
			Help:      "Inbound messages discarded because they could not be parsed",
		}),
		Retransmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "retransmissions_total",
			Help:      "Requests or responses retransmitted by transactions",
		}, []string{"method"}),
		TransactionTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "timeouts_total",
			Help:      "Transactions that ended on their overall timer",
		}, []string{"method"}),
		AuthRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dialog",
			Name:      "auth_retries_total",
			Help:      "Requests re-sent with digest credentials after a 401/407",
		}),
		Transactions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "active",
			Help:      "Live transactions by kind",
		}, []string{"kind"}),
		Dialogs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dialog",
			Name:      "active",
			Help:      "Live dialogs by kind",
		}, []string{"kind"}),
		Listeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "listeners",
			Help:      "Identifiers currently bound in the provider registry",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "connections",
			Help:      "Pooled connection-oriented transports",
		}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			mustRegister(reg, c)
		}
	}

	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesReceived,
		m.MessagesSent,
		m.ParseErrors,
		m.Retransmissions,
		m.TransactionTimeouts,
		m.AuthRetries,
		m.Transactions,
		m.Dialogs,
		m.Listeners,
		m.Connections,
	}
}

func mustRegister(reg prometheus.Registerer, c prometheus.Collector) {
	if err := reg.Register(c); err != nil {
		var e prometheus.AlreadyRegisteredError
		if errors.As(err, &e) {
			return
		}
		panic(err)
	}
}

// MessageKind 请求用方法名, 响应用 1xx..6xx
func MessageKind(isRequest bool, method string, code int) string {
	if isRequest {
		return method
	}
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	case code < 600:
		return "5xx"
	default:
		return "6xx"
	}
}
