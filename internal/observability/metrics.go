package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the bot. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	ActiveTurns     prometheus.Gauge
	Turns           *prometheus.CounterVec
	Compactions     *prometheus.CounterVec
	UsageEvents     *prometheus.CounterVec
	ResetEvents     *prometheus.CounterVec
	Commands        *prometheus.CounterVec
	ProviderErrors  *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec

	stages *turnStageWindow
}

// NewMetrics registers the instruments with the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers the instruments with reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveTurns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_turns",
			Help:      "Conversation turns currently holding a user lock.",
		}),
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Finished conversation turns by outcome.",
		}, []string{"outcome"}),
		Compactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Memory compactions by outcome.",
		}, []string{"outcome"}),
		UsageEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_events_total",
			Help:      "Daily usage counter calls by feature and result.",
		}, []string{"feature", "result"}),
		ResetEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reset_events_total",
			Help:      "Reset confirmation transitions by outcome.",
		}, []string{"outcome"}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Dispatched bot commands by name.",
		}, []string{"command"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "AI provider errors by provider and call.",
		}, []string{"provider", "call"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "AI provider call latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 15, 30, 60, 120},
		}, []string{"provider", "call"}),
		stages: newTurnStageWindow(256),
	}
}

func (m *Metrics) TurnStarted() {
	if m == nil {
		return
	}
	m.ActiveTurns.Inc()
}

func (m *Metrics) TurnFinished(outcome string) {
	if m == nil {
		return
	}
	m.ActiveTurns.Dec()
	m.Turns.WithLabelValues(outcome).Inc()
	m.stages.ObserveIndicator("turn_" + outcome)
}

func (m *Metrics) Compaction(outcome string) {
	if m == nil {
		return
	}
	m.Compactions.WithLabelValues(outcome).Inc()
	m.stages.ObserveIndicator("compaction_" + outcome)
}

func (m *Metrics) UsageRecorded(feature string, allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.UsageEvents.WithLabelValues(feature, result).Inc()
}

func (m *Metrics) ResetTransition(outcome string) {
	if m == nil {
		return
	}
	m.ResetEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Command(name string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(name).Inc()
}

// ObserveProvider records one upstream call. err may be nil.
func (m *Metrics) ObserveProvider(provider, call string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ProviderLatency.WithLabelValues(provider, call).Observe(d.Seconds())
	if err != nil {
		m.ProviderErrors.WithLabelValues(provider, call).Inc()
	}
}

// ObserveTurnStage feeds the rolling latency window served by /v1/perf/turns.
func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Microseconds())/1000)
}

func (m *Metrics) TurnStageSnapshot() TurnStageSnapshot {
	if m == nil {
		return TurnStageSnapshot{GeneratedAt: time.Now().UTC()}
	}
	return m.stages.Snapshot()
}

func (m *Metrics) ResetTurnStages() {
	if m == nil {
		return
	}
	m.stages.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
