// Package metrics holds the coordinator's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the matchmaking instruments. A nil *Metrics is safe
// to call, so tests can skip registration entirely.
type Metrics struct {
	Requests        *prometheus.CounterVec
	SessionsCreated prometheus.Counter
	Joins           *prometheus.CounterVec
	BotFallbacks    prometheus.Counter
	DedupRejections prometheus.Counter
	ReaperExpired   *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	WaitingPlayers  prometheus.Gauge
}

// New registers the instruments with reg (prometheus.DefaultRegisterer
// when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchhub_requests_total",
			Help: "FindOrCreate requests by outcome.",
		}, []string{"outcome"}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "matchhub_sessions_created_total",
			Help: "Sessions created on FindOrCreate misses.",
		}),
		Joins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchhub_joins_total",
			Help: "Successful session joins by actor.",
		}, []string{"actor"}),
		BotFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "matchhub_bot_fallbacks_total",
			Help: "Fallback timers that fired and injected a bot.",
		}),
		DedupRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "matchhub_dedup_rejections_total",
			Help: "Matchmaking requests rejected by the dedup guard.",
		}),
		ReaperExpired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchhub_reaper_transitions_total",
			Help: "Stale sessions transitioned by the expiry reaper.",
		}, []string{"to"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "matchhub_active_sessions",
			Help: "Non-terminal sessions in the store.",
		}),
		WaitingPlayers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "matchhub_waiting_players",
			Help: "Human participants in waiting sessions.",
		}),
	}
}

func (m *Metrics) CountRequest(outcome string) {
	if m != nil {
		m.Requests.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) CountSessionCreated() {
	if m != nil {
		m.SessionsCreated.Inc()
	}
}

func (m *Metrics) CountJoin(actor string) {
	if m != nil {
		m.Joins.WithLabelValues(actor).Inc()
	}
}

func (m *Metrics) CountBotFallback() {
	if m != nil {
		m.BotFallbacks.Inc()
	}
}

func (m *Metrics) CountDedupRejection() {
	if m != nil {
		m.DedupRejections.Inc()
	}
}

func (m *Metrics) CountReaped(to string) {
	if m != nil {
		m.ReaperExpired.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) SetPool(active, waitingPlayers int) {
	if m != nil {
		m.ActiveSessions.Set(float64(active))
		m.WaitingPlayers.Set(float64(waitingPlayers))
	}
}
