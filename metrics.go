package centrifuge

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector receives counters/gauges for client lifecycle events,
// generalizing nats.go's plain Stats{InMsgs, OutMsgs, Reconnects, ...}
// struct into an interface so embedders can wire it to Prometheus (or
// nothing) without the core engine importing a global registry.
type MetricsCollector interface {
	CommandSent(method Method)
	CommandFailed(method Method, code uint32)
	ReplyReceived(method Method, latency float64)
	PushReceived(pushType PushType)
	ReconnectAttempt()
	StateChanged(state State)
	SubscriptionStateChanged(state SubscriptionState)
}

// noopMetrics discards everything; the zero value of MetricsCollector in
// practice, used whenever Config.Metrics is left nil.
type noopMetrics struct{}

func (noopMetrics) CommandSent(Method)                          {}
func (noopMetrics) CommandFailed(Method, uint32)                {}
func (noopMetrics) ReplyReceived(Method, float64)                {}
func (noopMetrics) PushReceived(PushType)                       {}
func (noopMetrics) ReconnectAttempt()                            {}
func (noopMetrics) StateChanged(State)                           {}
func (noopMetrics) SubscriptionStateChanged(SubscriptionState)   {}

// PrometheusMetrics is the built-in MetricsCollector, grounded in
// go-server-2/src/metrics.go's counter/gauge/histogram registration style.
type PrometheusMetrics struct {
	commandsSent     *prometheus.CounterVec
	commandsFailed   *prometheus.CounterVec
	replyLatency     *prometheus.HistogramVec
	pushesReceived   *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	clientState      prometheus.Gauge
}

// NewPrometheusMetrics registers client metrics on reg and returns a
// MetricsCollector backed by them. Pass prometheus.DefaultRegisterer to
// use the global registry, as go-server-2 does.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "centrifuge", Name: "commands_sent_total",
			Help: "Commands sent to the server, by method.",
		}, []string{"method"}),
		commandsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "centrifuge", Name: "commands_failed_total",
			Help: "Commands that received an error reply, by method and code.",
		}, []string{"method", "code"}),
		replyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "centrifuge", Name: "reply_latency_seconds",
			Help:    "Latency between a command being sent and its reply arriving.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		pushesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "centrifuge", Name: "pushes_received_total",
			Help: "Server pushes received, by type.",
		}, []string{"type"}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "centrifuge", Name: "reconnect_attempts_total",
			Help: "Reconnect attempts made since process start.",
		}),
		clientState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "centrifuge", Name: "client_state",
			Help: "Current client state (0=disconnected,1=connecting,2=connected,3=closed).",
		}),
	}
	reg.MustRegister(m.commandsSent, m.commandsFailed, m.replyLatency, m.pushesReceived, m.reconnectAttempts, m.clientState)
	return m
}

func (m *PrometheusMetrics) CommandSent(method Method) {
	m.commandsSent.WithLabelValues(string(method)).Inc()
}

func (m *PrometheusMetrics) CommandFailed(method Method, code uint32) {
	m.commandsFailed.WithLabelValues(string(method), itoa(code)).Inc()
}

func (m *PrometheusMetrics) ReplyReceived(method Method, latency float64) {
	m.replyLatency.WithLabelValues(string(method)).Observe(latency)
}

func (m *PrometheusMetrics) PushReceived(pushType PushType) {
	m.pushesReceived.WithLabelValues(string(pushType)).Inc()
}

func (m *PrometheusMetrics) ReconnectAttempt() {
	m.reconnectAttempts.Inc()
}

func (m *PrometheusMetrics) StateChanged(state State) {
	m.clientState.Set(float64(state))
}

// SubscriptionStateChanged is intentionally not broken out per-channel: a
// label per channel name would be an unbounded cardinality blow-up for
// servers with many dynamic channels, so subscription state is not
// exported as a metric (nor logged).
func (m *PrometheusMetrics) SubscriptionStateChanged(SubscriptionState) {}

func itoa(code uint32) string {
	if code == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for code > 0 {
		i--
		buf[i] = byte('0' + code%10)
		code /= 10
	}
	return string(buf[i:])
}
