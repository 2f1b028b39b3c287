// Package metrics holds the Prometheus instrumentation shared across
// Chronos's recorder, refusal engine, IPC server, and replay controller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric exported by the agent.
type Metrics struct {
	CaptureErrors          *prometheus.CounterVec
	SerializationErrors    *prometheus.CounterVec
	DegradationLevel       *prometheus.GaugeVec
	DegradationTransitions *prometheus.CounterVec
	RefusalDecisions       *prometheus.CounterVec
	IPCRateLimitClosures   prometheus.Counter
	ReplayDivergences      *prometheus.CounterVec
	MemoryPressurePauses   prometheus.Counter
}

// New creates and registers all Chronos Prometheus metrics against the
// default registry.
func New() *Metrics {
	return &Metrics{
		CaptureErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronos_capture_errors_total",
				Help: "Total number of source capture errors encountered by the recorder",
			},
			[]string{"source_id"},
		),

		SerializationErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronos_serialization_errors_total",
				Help: "Total number of canonicalization/serialization failures during verification",
			},
			[]string{"type_name"},
		),

		DegradationLevel: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chronos_recording_level",
				Help: "Current recording degradation level (0=Full, 1=Reduced, 2=Minimal, 3=Paused)",
			},
			[]string{"session_id"},
		),

		DegradationTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronos_degradation_transitions_total",
				Help: "Total number of recording level transitions",
			},
			[]string{"from_level", "to_level"},
		),

		RefusalDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronos_refusal_decisions_total",
				Help: "Total number of refusal engine evaluations by outcome",
			},
			[]string{"allowed"},
		),

		IPCRateLimitClosures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chronos_ipc_rate_limit_closures_total",
				Help: "Total number of IPC connections closed for exceeding the message rate limit",
			},
		),

		ReplayDivergences: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronos_replay_divergences_total",
				Help: "Total number of divergences detected during replay, by classification",
			},
			[]string{"divergence"},
		),

		MemoryPressurePauses: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chronos_memory_pressure_pauses_total",
				Help: "Total number of times recording was paused due to memory pressure",
			},
		),
	}
}

// RecordCaptureError increments the capture-error counter for a source.
func (m *Metrics) RecordCaptureError(sourceID string) {
	m.CaptureErrors.WithLabelValues(sourceID).Inc()
}

// RecordSerializationError increments the serialization-error counter for a
// type.
func (m *Metrics) RecordSerializationError(typeName string) {
	m.SerializationErrors.WithLabelValues(typeName).Inc()
}

// SetDegradationLevel records the current level for a session.
func (m *Metrics) SetDegradationLevel(sessionID string, level int) {
	m.DegradationLevel.WithLabelValues(sessionID).Set(float64(level))
}

// RecordDegradationTransition records a level change.
func (m *Metrics) RecordDegradationTransition(from, to string) {
	m.DegradationTransitions.WithLabelValues(from, to).Inc()
}

// RecordRefusalDecision records whether a refusal evaluation allowed replay.
func (m *Metrics) RecordRefusalDecision(allowed bool) {
	label := "false"
	if allowed {
		label = "true"
	}
	m.RefusalDecisions.WithLabelValues(label).Inc()
}

// RecordIPCRateLimitClosure increments the IPC rate-limit closure counter.
func (m *Metrics) RecordIPCRateLimitClosure() {
	m.IPCRateLimitClosures.Inc()
}

// RecordReplayDivergence records a divergence classification observed
// during replay.
func (m *Metrics) RecordReplayDivergence(divergence string) {
	m.ReplayDivergences.WithLabelValues(divergence).Inc()
}

// RecordMemoryPressurePause increments the memory-pressure pause counter.
func (m *Metrics) RecordMemoryPressurePause() {
	m.MemoryPressurePauses.Inc()
}
