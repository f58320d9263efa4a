// Package tts wraps a single-threaded native synthesis engine in an
// isolated worker goroutine, communicating by request/reply messages
// so the orchestrator is never blocked waiting on the engine directly
// and synthesis can overlap playback. Grounded on the teacher's
// pkg/providers/tts/lokutor.go lazy-connect-with-mutex idiom, adapted
// from a remote websocket round-trip to a single long-lived local
// worker.
package tts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lokutor-ai/voxcore/internal/metrics"
	"github.com/lokutor-ai/voxcore/internal/orchestrator"
)

// ErrDisposed is returned by Synthesize once the worker has been
// closed.
var ErrDisposed = errors.New("tts: engine disposed")

// Engine is the native synthesis call a Worker serializes access to.
// Implementations wrap a real TTS library; this package only defines
// the contract and the concurrency wrapper around it.
type Engine interface {
	Synthesize(text string, speed float64, speakerID int) ([]float32, error)
	SampleRate() int
	Close() error
}

type request struct {
	text  string
	reply chan reply
}

type reply struct {
	result orchestrator.TtsResult
	err    error
}

// Worker serializes all calls to a single-threaded Engine through one
// goroutine and a request channel, satisfying orchestrator.Tts.
type Worker struct {
	engine    Engine
	speed     float64
	speakerID int

	reqc   chan request
	closec chan struct{}
	done   chan struct{}
}

// NewWorker starts the worker goroutine wrapping engine.
func NewWorker(engine Engine, speed float64, speakerID int) *Worker {
	w := &Worker{
		engine:    engine,
		speed:     speed,
		speakerID: speakerID,
		reqc:      make(chan request),
		closec:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		select {
		case req := <-w.reqc:
			start := time.Now()
			samples, err := w.engine.Synthesize(req.text, w.speed, w.speakerID)
			metrics.SynthesisLatency.Observe(time.Since(start).Seconds())
			if err != nil {
				cause := fmt.Errorf("%w: %v", orchestrator.ErrTTSFailed, err)
				req.reply <- reply{err: orchestrator.NewError(orchestrator.KindEngineFailed, "text-to-speech synthesis failed", cause)}
				continue
			}
			req.reply <- reply{result: orchestrator.TtsResult{
				Samples:    samples,
				SampleRate: w.engine.SampleRate(),
			}}
		case <-w.closec:
			w.engine.Close()
			return
		}
	}
}

// Synthesize sends text to the worker and blocks for the reply. A
// disposed worker refuses further calls.
func (w *Worker) Synthesize(ctx context.Context, text string) (orchestrator.TtsResult, error) {
	replyc := make(chan reply, 1)
	select {
	case w.reqc <- request{text: text, reply: replyc}:
	case <-w.closec:
		return orchestrator.TtsResult{}, orchestrator.NewError(orchestrator.KindDisposed, "tts worker disposed", ErrDisposed)
	case <-ctx.Done():
		return orchestrator.TtsResult{}, orchestrator.NewError(orchestrator.KindTimeout, "synthesis request cancelled", fmt.Errorf("%w: %v", orchestrator.ErrContextCancelled, ctx.Err()))
	}

	select {
	case r := <-replyc:
		return r.result, r.err
	case <-ctx.Done():
		return orchestrator.TtsResult{}, orchestrator.NewError(orchestrator.KindTimeout, "synthesis request cancelled", fmt.Errorf("%w: %v", orchestrator.ErrContextCancelled, ctx.Err()))
	}
}

// SampleRate returns the engine's fixed output sample rate.
func (w *Worker) SampleRate() int {
	return w.engine.SampleRate()
}

// Close tears down the worker goroutine and the underlying engine.
func (w *Worker) Close() error {
	select {
	case <-w.closec:
	default:
		close(w.closec)
	}
	<-w.done
	return nil
}
