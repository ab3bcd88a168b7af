package sessionsdk

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts session lifecycle events. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	logins       *prometheus.CounterVec
	refreshes    *prometheus.CounterVec
	heartbeats   *prometheus.CounterVec
	terminations *prometheus.CounterVec
	active       prometheus.Gauge
}

// NewMetrics creates the session collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyhall",
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyhall",
			Subsystem: "session",
			Name:      "refreshes_total",
			Help:      "Access token refreshes by result.",
		}, []string{"result"}),
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyhall",
			Subsystem: "session",
			Name:      "heartbeats_total",
			Help:      "Heartbeat pings by result.",
		}, []string{"result"}),
		terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyhall",
			Subsystem: "session",
			Name:      "terminations_total",
			Help:      "Session terminations by reason.",
		}, []string{"reason"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "studyhall",
			Subsystem: "session",
			Name:      "active",
			Help:      "1 while an authenticated session is running.",
		}),
	}

	reg.MustRegister(m.logins, m.refreshes, m.heartbeats, m.terminations, m.active)
	return m
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *Metrics) login(err error) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) refresh(err error) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) heartbeat(err error) {
	if m == nil {
		return
	}
	m.heartbeats.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) terminated(reason Reason) {
	if m == nil {
		return
	}
	m.terminations.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) setActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.active.Set(1)
		return
	}
	m.active.Set(0)
}
