package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type MetricsConfig struct {
	Namespace   string
	SubCodec    string
	SubDispatch string
	Buckets     []float64
}

func DefaultConfig() *MetricsConfig {
	return &MetricsConfig{
		Namespace:   "visca",
		SubCodec:    "codec",
		SubDispatch: "dispatch",
		// Completion can lag a physical move by seconds
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}
}

// Metrics records codec exchanges and dispatched commands.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	exchanges       *prometheus.CounterVec
	exchangeSeconds *prometheus.HistogramVec
	escalations     prometheus.Counter
	commands        *prometheus.CounterVec
}

func New(reg prometheus.Registerer, config *MetricsConfig) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	met := &Metrics{
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace, Subsystem: config.SubCodec, Name: "exchanges_total", Help: "Wire exchanges"}, []string{"op", "result"}),
		exchangeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace, Subsystem: config.SubCodec, Name: "exchange_seconds", Help: "Wire exchange duration", Buckets: config.Buckets}, []string{"op"}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace, Subsystem: config.SubCodec, Name: "completion_escalations_total", Help: "Completion reads re-armed with the long timeout"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace, Subsystem: config.SubDispatch, Name: "commands_total", Help: "Dispatched commands"}, []string{"command", "status"}),
	}

	if reg != nil {
		reg.MustRegister(met.exchanges, met.exchangeSeconds, met.escalations, met.commands)
	}
	return met
}

func (m *Metrics) ObserveExchange(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.exchanges.WithLabelValues(op, result).Inc()
	m.exchangeSeconds.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) Escalation() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

func (m *Metrics) ObserveCommand(command string, status string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, status).Inc()
}
