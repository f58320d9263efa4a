package orchestrator

import (
	"time"

	"github.com/lokutor-ai/voxcore/internal/metrics"
)

// KeywordSpotter is the opaque streaming model a WakeDetector wraps.
// Implementations wrap a real engine (e.g. an ONNX keyword spotter);
// this package only defines the contract it must satisfy.
type KeywordSpotter interface {
	// Process scans one PCM frame and returns the spotted keyword, if
	// any. It must be non-blocking and safe to call from the
	// audio-routing loop.
	Process(frame []byte) (keyword string, spotted bool)
	// Reset clears any internal streaming state so the same keyword
	// can fire again.
	Reset()
}

// WakeDetector emits a WakeEvent at most once per detected occurrence
// and self-resets after emission.
type WakeDetector struct {
	spotter KeywordSpotter
}

// NewWakeDetector wraps a KeywordSpotter.
func NewWakeDetector(spotter KeywordSpotter) *WakeDetector {
	return &WakeDetector{spotter: spotter}
}

// ProcessAudio feeds one PCM frame to the keyword spotter.
func (w *WakeDetector) ProcessAudio(frame []byte) *WakeEvent {
	keyword, spotted := w.spotter.Process(frame)
	if !spotted {
		return nil
	}
	w.spotter.Reset()
	return &WakeEvent{Keyword: keyword, At: time.Now().UnixMilli()}
}

// wakeCooldown suppresses duplicate wake fires within this window.
const wakeCooldown = 2 * time.Second

// cooldownGate tracks the last accepted wake event's timestamp and
// discards events that arrive within wakeCooldown of it.
type cooldownGate struct {
	lastAccepted time.Time
}

// Accept reports whether the given wake event should be accepted,
// recording it as the new "last accepted" event if so.
func (g *cooldownGate) Accept(evt *WakeEvent) bool {
	now := time.UnixMilli(evt.At)
	if !g.lastAccepted.IsZero() && now.Sub(g.lastAccepted) < wakeCooldown {
		return false
	}
	g.lastAccepted = now
	metrics.WakeEventsTotal.Inc()
	return true
}
