package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	PollOK          = "ok"
	PollNoData      = "no_data"
	PollServerError = "server_error"
	PollStale       = "stale"

	CommandSent   = "sent"
	CommandFailed = "failed"
)

// Metrics собирает счётчики монитора. Нулевой указатель допустим:
// все методы на nil ничего не делают.
type Metrics struct {
	polls       *prometheus.CounterVec
	pollLatency prometheus.Histogram
	commands    *prometheus.CounterVec
	status      *prometheus.GaugeVec
	fixes       *prometheus.CounterVec
}

// New создаёт и регистрирует коллекторы в reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aura_polls_total",
			Help: "Telemetry polls by outcome.",
		}, []string{"result"}),
		pollLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aura_poll_latency_seconds",
			Help:    "Round trip of GET /api/data.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aura_commands_total",
			Help: "Actuation commands by kind and transport result.",
		}, []string{"kind", "result"}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aura_safety_status",
			Help: "1 for the current safety status, 0 otherwise.",
		}, []string{"status"}),
		fixes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aura_location_fixes_total",
			Help: "Operator location fixes accepted by source.",
		}, []string{"source"}),
	}

	reg.MustRegister(m.polls, m.pollLatency, m.commands, m.status, m.fixes)
	return m
}

func (m *Metrics) ObservePoll(result string, seconds float64) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
	if result == PollOK || result == PollNoData {
		m.pollLatency.Observe(seconds)
	}
}

func (m *Metrics) IncCommand(kind, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(kind, result).Inc()
}

// SetStatus выставляет 1 для current и 0 для остальных статусов из all
func (m *Metrics) SetStatus(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.status.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) IncFix(source string) {
	if m == nil {
		return
	}
	m.fixes.WithLabelValues(source).Inc()
}

