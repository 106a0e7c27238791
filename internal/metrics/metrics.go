// Package metrics provides Prometheus metrics for the bot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	EngineRoundsTotal      *prometheus.CounterVec
	EngineRoundDuration    *prometheus.HistogramVec
	ActiveSessions         prometheus.Gauge
	PendingPromptCollapses *prometheus.CounterVec
	ChannelPipelineRuns    *prometheus.CounterVec
	InterventionOutcomes   *prometheus.CounterVec
	MemoryPromotionsTotal  *prometheus.CounterVec
	MemoryCompactionsTotal prometheus.Counter
	PluginHookInvocations  *prometheus.CounterVec
	DeadLettersTotal       *prometheus.CounterVec
	ErrorsTotal            *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EngineRoundsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_engine_rounds_total",
				Help: "Total engine invocations by outcome (success, error, interrupted).",
			},
			[]string{"outcome"},
		),
		EngineRoundDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bot_engine_round_duration_seconds",
				Help:    "Engine round wall-clock duration.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bot_active_sessions",
				Help: "Number of Executor sessions currently running an engine round.",
			},
		),
		PendingPromptCollapses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_pending_prompt_collapses_total",
				Help: "Follow-up messages collapsed into an in-flight session's pending prompt, by thread state.",
			},
			[]string{"thread_state"},
		),
		ChannelPipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_channel_pipeline_runs_total",
				Help: "ChannelPipeline collect/judge passes by verdict.",
			},
			[]string{"verdict"},
		),
		InterventionOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_intervention_outcomes_total",
				Help: "Intervention-probability gate outcomes (fired, suppressed).",
			},
			[]string{"outcome"},
		),
		MemoryPromotionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_memory_promotions_total",
				Help: "Observational-memory candidate promotions by result (promoted, rejected).",
			},
			[]string{"result"},
		),
		MemoryCompactionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bot_memory_compactions_total",
				Help: "Persistent-memory compaction passes triggered.",
			},
		),
		PluginHookInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_plugin_hook_invocations_total",
				Help: "Hook dispatch invocations by hook name and verdict (continue, skip, stop, error).",
			},
			[]string{"hook", "verdict"},
		),
		DeadLettersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_dead_letters_total",
				Help: "Dead letters recorded by kind.",
			},
			[]string{"kind"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_errors_total",
				Help: "Total errors by module and error kind.",
			},
			[]string{"module", "kind"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.EngineRoundsTotal,
		m.EngineRoundDuration,
		m.ActiveSessions,
		m.PendingPromptCollapses,
		m.ChannelPipelineRuns,
		m.InterventionOutcomes,
		m.MemoryPromotionsTotal,
		m.MemoryCompactionsTotal,
		m.PluginHookInvocations,
		m.DeadLettersTotal,
		m.ErrorsTotal,
	)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEngineRound records one engine round's outcome and duration.
func (m *Metrics) RecordEngineRound(outcome string, seconds float64) {
	m.EngineRoundsTotal.WithLabelValues(outcome).Inc()
	m.EngineRoundDuration.WithLabelValues(outcome).Observe(seconds)
}

// SetActiveSessions sets the current running-session gauge.
func (m *Metrics) SetActiveSessions(count float64) {
	m.ActiveSessions.Set(count)
}

// RecordPendingPromptCollapse records a follow-up message folded into an
// in-flight session's pending prompt.
func (m *Metrics) RecordPendingPromptCollapse(threadState string) {
	m.PendingPromptCollapses.WithLabelValues(threadState).Inc()
}

// RecordChannelPipelineRun records one collect/judge pass's verdict.
func (m *Metrics) RecordChannelPipelineRun(verdict string) {
	m.ChannelPipelineRuns.WithLabelValues(verdict).Inc()
}

// RecordInterventionOutcome records whether the intervention-probability
// gate fired or suppressed.
func (m *Metrics) RecordInterventionOutcome(outcome string) {
	m.InterventionOutcomes.WithLabelValues(outcome).Inc()
}

// RecordMemoryPromotion records one candidate's promotion result.
func (m *Metrics) RecordMemoryPromotion(result string) {
	m.MemoryPromotionsTotal.WithLabelValues(result).Inc()
}

// RecordMemoryCompaction records one compaction pass.
func (m *Metrics) RecordMemoryCompaction() {
	m.MemoryCompactionsTotal.Inc()
}

// RecordPluginHook records one hook dispatch invocation's verdict.
func (m *Metrics) RecordPluginHook(hook, verdict string) {
	m.PluginHookInvocations.WithLabelValues(hook, verdict).Inc()
}

// RecordDeadLetter records one dead letter by kind.
func (m *Metrics) RecordDeadLetter(kind string) {
	m.DeadLettersTotal.WithLabelValues(kind).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, kind string) {
	m.ErrorsTotal.WithLabelValues(module, kind).Inc()
}
