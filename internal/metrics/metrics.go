// Package metrics exposes Prometheus instrumentation for the
// orchestration pipeline, grounded on the use of
// github.com/prometheus/client_golang across the pack (seen in the
// hubenschmidt gateway's go.mod).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// SynthesisLatency observes Tts.Synthesize wall time per sentence.
	SynthesisLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxcore_tts_synthesis_seconds",
		Help:    "Latency of a single sentence TTS synthesis call.",
		Buckets: prometheus.DefBuckets,
	})

	// BargeInTotal counts accepted barge-in events.
	BargeInTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voxcore_barge_in_total",
		Help: "Number of barge-in events accepted by the orchestrator.",
	})

	// WakeEventsTotal counts accepted (post-cooldown) wake events.
	WakeEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voxcore_wake_events_total",
		Help: "Number of wake events accepted after cooldown filtering.",
	})

	// StateTransitionsTotal counts orchestrator state transitions by
	// destination state.
	StateTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voxcore_state_transitions_total",
		Help: "Orchestrator state transitions, labeled by destination state.",
	}, []string{"to"})
)

// MustRegister registers every collector in this package with reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(SynthesisLatency, BargeInTotal, WakeEventsTotal, StateTransitionsTotal)
}
