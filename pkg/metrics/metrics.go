// Package metrics provides Prometheus instrumentation for the companion assistant.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the assistant collectors. A nil or disabled Manager records nothing,
// so callers never need to check before recording.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	turns            *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	toolCalls        *prometheus.CounterVec
	llmFailures      *prometheus.CounterVec
	backgroundTasks  *prometheus.CounterVec
	completionRounds prometheus.Histogram
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	Path    string `koanf:"path"`

	TurnDurationBuckets []float64 `koanf:"turn_duration_buckets"`
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		Path:                "/metrics",
		TurnDurationBuckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewManager creates a new metrics manager with its own registry.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}
	if len(cfg.TurnDurationBuckets) == 0 {
		cfg.TurnDurationBuckets = DefaultConfig().TurnDurationBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		enabled:  true,
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_turns_total",
			Help: "Conversation turns by the route that produced the reply",
		}, []string{"route"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "companion_turn_duration_seconds",
			Help:    "Time to produce a reply, by route",
			Buckets: cfg.TurnDurationBuckets,
		}, []string{"route"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_tool_calls_total",
			Help: "Tool executions requested by the model, by tool and status",
		}, []string{"tool", "status"}),
		llmFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_llm_failures_total",
			Help: "LLM calls that failed after retries, by operation",
		}, []string{"op"}),
		backgroundTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_background_tasks_total",
			Help: "Post-turn background tasks by task and status",
		}, []string{"task", "status"}),
		completionRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "companion_completion_rounds",
			Help:    "Tool rounds used per completion loop",
			Buckets: []float64{0, 1, 2, 3},
		}),
	}

	registry.MustRegister(m.turns, m.turnDuration, m.toolCalls, m.llmFailures, m.backgroundTasks, m.completionRounds)
	return m
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m != nil && m.enabled
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Manager) Registry() *prometheus.Registry {
	if !m.Enabled() {
		return nil
	}
	return m.registry
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.Enabled() {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn records a finished turn and how long it took.
func (m *Manager) RecordTurn(route string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.turns.WithLabelValues(route).Inc()
	m.turnDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordToolCall records a tool execution; status is "ok" or "error".
func (m *Manager) RecordToolCall(tool, status string) {
	if !m.Enabled() {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
}

// RecordLLMFailure records an LLM call that failed for good.
func (m *Manager) RecordLLMFailure(op string) {
	if !m.Enabled() {
		return
	}
	m.llmFailures.WithLabelValues(op).Inc()
}

// RecordBackgroundTask records the outcome of a background task.
func (m *Manager) RecordBackgroundTask(task, status string) {
	if !m.Enabled() {
		return
	}
	m.backgroundTasks.WithLabelValues(task, status).Inc()
}

// ObserveCompletionRounds records the tool rounds used by one completion loop.
func (m *Manager) ObserveCompletionRounds(rounds int) {
	if !m.Enabled() {
		return
	}
	m.completionRounds.Observe(float64(rounds))
}

// Counter accessors for tests.

func (m *Manager) TurnsCounter(route string) prometheus.Counter {
	return m.turns.WithLabelValues(route)
}

func (m *Manager) ToolCallsCounter(tool, status string) prometheus.Counter {
	return m.toolCalls.WithLabelValues(tool, status)
}

func (m *Manager) LLMFailuresCounter(op string) prometheus.Counter {
	return m.llmFailures.WithLabelValues(op)
}

func (m *Manager) BackgroundTasksCounter(task, status string) prometheus.Counter {
	return m.backgroundTasks.WithLabelValues(task, status)
}
