// Package orchestrator implements the assistant state machine and the
// token -> sentence -> synthesis -> playback streaming pipeline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lokutor-ai/voxcore/internal/audio"
	"github.com/lokutor-ai/voxcore/internal/recorder"
	"github.com/lokutor-ai/voxcore/internal/segmenter"
)

// AssistantState is one of the eight states (Idle through Error) in
// spec §3/§4.12.
type AssistantState int

const (
	StateIdle AssistantState = iota
	StateListeningForWakeWord
	StateListening
	StateProcessing
	StateSpeaking
	StateAwaitingFollowUp
	StatePrompting
	StateError
)

func (s AssistantState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListeningForWakeWord:
		return "listening_for_wake_word"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateAwaitingFollowUp:
		return "awaiting_follow_up"
	case StatePrompting:
		return "prompting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// followUpGrace is the window after entering AwaitingFollowUp during
// which Speech transitions are ignored, to avoid mis-triggering on the
// tail of the assistant's own audio.
const followUpGrace = 500 * time.Millisecond

// errorRecoveryDelay is how long the orchestrator stays in Error
// before returning to ListeningForWakeWord.
const errorRecoveryDelay = 1 * time.Second

// Config holds the run-time parameters from spec §6 that the
// orchestrator carries (the rest of the Config table governs how
// Stt/Llm/Tts/WakeDetector are constructed, outside this package).
// SilenceThreshold and SilenceDuration are not read by the orchestrator
// itself: the Vad passed to New is built with its own threshold and
// duration.
type Config struct {
	SilenceThreshold         float64
	SilenceDuration          time.Duration
	MaxHistoryLength         int
	SentencePause            time.Duration
	EnableFollowUp           bool
	FollowUpTimeout          time.Duration
	StatementFollowUpTimeout time.Duration
	EnableBargeIn            bool
}

// DefaultConfig returns the documented defaults from spec §6.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold:         0.01,
		SilenceDuration:          800 * time.Millisecond,
		MaxHistoryLength:         10,
		SentencePause:            300 * time.Millisecond,
		EnableFollowUp:           true,
		FollowUpTimeout:          4 * time.Second,
		StatementFollowUpTimeout: 4 * time.Second,
		EnableBargeIn:            true,
	}
}

// Orchestrator is the state machine, the streaming pipeline, barge-in
// preemption, and recovery (spec §4.12). It exclusively owns every
// component it is constructed with; components hold no back-reference
// to it (spec §9).
type Orchestrator struct {
	mu    sync.Mutex
	state AssistantState

	stt Stt
	llm Llm
	tts Tts

	vad         *Vad
	wake        *WakeDetector
	cooldown    cooldownGate
	audioSource audio.Source
	audioSink   audio.Sink
	wakeCue     *audio.CuePlayer
	bargeInCue  *audio.CuePlayer
	rec         recorder.Recorder
	convCtx     *ConversationContext
	config      Config
	logger      Logger

	events chan Event

	utteranceBuf []byte

	sb             *speakingState
	pipelineCancel context.CancelFunc
	consumerDone   chan struct{}

	followUpTimer     *time.Timer
	followUpEnteredAt time.Time
	promptCount       int
	lastResponseQ     string
	lastWasQuestion   bool

	sessionUtterances int
	sessionStart      time.Time
	disposed          bool
}

// New constructs an Orchestrator. It does not start capture; call
// Start to begin routing audio.
func New(stt Stt, llm Llm, tts Tts, vad *Vad, wake *WakeDetector, src audio.Source, sink audio.Sink, wakeCue, bargeInCue *audio.CuePlayer, rec recorder.Recorder, cfg Config, logger Logger) *Orchestrator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if rec == nil {
		rec = recorder.Null{}
	}
	return &Orchestrator{
		state:       StateIdle,
		stt:         stt,
		llm:         llm,
		tts:         tts,
		vad:         vad,
		wake:        wake,
		audioSource: src,
		audioSink:   sink,
		wakeCue:     wakeCue,
		bargeInCue:  bargeInCue,
		rec:         rec,
		convCtx:     NewConversationContext(cfg.MaxHistoryLength),
		config:      cfg,
		logger:      logger,
		events:      make(chan Event, 64),
	}
}

// Events returns the advisory event stream. These are advisory; the
// core never blocks pipeline progress on a slow subscriber.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// SetSystemPrompt sets the immutable system prompt used for every LLM
// turn.
func (o *Orchestrator) SetSystemPrompt(prompt string) {
	o.convCtx.SetSystem(prompt, prompt != "")
}

func (o *Orchestrator) stateSnapshot() AssistantState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s AssistantState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.emit(Event{Type: EventStateChanged, Data: s})
}

func (o *Orchestrator) emit(e Event) {
	select {
	case o.events <- e:
	default:
		// Slow subscriber: drop rather than block pipeline progress.
	}
}

// Start begins capture and enters ListeningForWakeWord, then runs the
// audio-routing loop until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.stt == nil || o.llm == nil || o.tts == nil || o.audioSource == nil || o.audioSink == nil {
		return newErr(KindConfig, "orchestrator missing a required component", ErrNilProvider)
	}
	if err := o.audioSource.Start(); err != nil {
		return fmt.Errorf("orchestrator: start capture: %w", err)
	}
	o.sessionStart = time.Now()
	o.rec.SessionStart(o.config)
	o.setState(StateListeningForWakeWord)

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-o.audioSource.Frames():
			if !ok {
				return nil
			}
			o.routeFrame(frame)
		}
	}
}

// routeFrame dispatches one PCM frame per the state's routing rule
// (spec §4.12's table).
func (o *Orchestrator) routeFrame(frame []byte) {
	switch o.stateSnapshot() {
	case StateListeningForWakeWord:
		o.handleWakeCandidate(frame)
	case StateListening, StateAwaitingFollowUp:
		o.utteranceBuf = append(o.utteranceBuf, frame...)
		if evt := o.vad.Process(frame); evt != nil {
			o.handleVadEvent(evt)
		}
	case StateSpeaking, StatePrompting:
		if o.config.EnableBargeIn {
			o.handleWakeCandidate(frame)
		}
	case StateProcessing, StateError, StateIdle:
		// nothing
	}
}

func (o *Orchestrator) handleWakeCandidate(frame []byte) {
	evt := o.wake.ProcessAudio(frame)
	if evt == nil {
		return
	}
	if !o.cooldown.Accept(evt) {
		return
	}
	o.onWakeAccepted(evt)
}

// onWakeAccepted applies the wake-event transition appropriate to the
// current state: Listening entry from ListeningForWakeWord, or
// barge-in from Speaking/Prompting.
func (o *Orchestrator) onWakeAccepted(evt *WakeEvent) {
	switch o.stateSnapshot() {
	case StateListeningForWakeWord:
		o.enterListening(evt)
	case StateSpeaking, StatePrompting:
		o.bargeIn(evt)
	}
}

func (o *Orchestrator) enterListening(evt *WakeEvent) {
	if o.wakeCue != nil {
		if err := o.wakeCue.PlayRandom(); err != nil {
			o.logger.Warn("wake cue playback failed", "error", err)
		}
	}
	o.utteranceBuf = nil
	o.vad.Reset()
	o.rec.WakeWord(evt.Keyword)
	o.setState(StateListening)
}

// bargeIn cancels the LLM stream, stops the sink, plays the barge-in
// cue, and transitions back to Listening. Per spec §4.11's guarantee:
// once a wake event is accepted during Speaking, no further play
// completes.
func (o *Orchestrator) bargeIn(evt *WakeEvent) {
	sentenceIndex, total, partial := -1, 0, ""
	if o.sb != nil {
		sentenceIndex, total, partial = o.sb.snapshot()
	}

	if o.pipelineCancel != nil {
		o.pipelineCancel()
	}
	o.llm.CancelStream()
	o.audioSink.Stop()

	if o.bargeInCue != nil {
		if err := o.bargeInCue.PlayRandom(); err != nil {
			o.logger.Warn("barge-in cue playback failed", "error", err)
		}
	}

	o.utteranceBuf = nil
	o.vad.Reset()
	o.rec.BargeIn(sentenceIndex, total, partial)
	o.emit(Event{Type: EventBargeIn, Data: partial})
	o.setState(StateListening)
}

func (o *Orchestrator) handleVadEvent(evt *VadEvent) {
	switch o.stateSnapshot() {
	case StateListening:
		if evt.Type == VadSilence {
			o.onUtteranceComplete()
		}
	case StateAwaitingFollowUp:
		if evt.Type == VadSpeech {
			if time.Since(o.followUpEnteredAt) < followUpGrace {
				return
			}
			o.onFollowUpSpeech()
		}
	}
}

// onUtteranceComplete submits the buffered PCM to STT and transitions
// to Processing, then to Speaking or back to ListeningForWakeWord
// depending on whether the transcription was empty.
func (o *Orchestrator) onUtteranceComplete() {
	o.setState(StateProcessing)
	pcm := o.utteranceBuf
	o.utteranceBuf = nil

	audioRef, _ := o.rec.UserAudio(pcm)

	ctx := context.Background()
	text, err := o.stt.Transcribe(ctx, pcm)
	if err != nil {
		o.logger.Error("transcription failed", "error", err)
		o.toError(newErr(KindEngineFailed, "speech-to-text transcription failed", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)))
		return
	}

	o.rec.Transcription(text, audioRef)
	if text == "" {
		// Not a failure: an empty transcription just means nothing was
		// said worth responding to. Logged against the sentinel so the
		// two are distinguishable from an actual STT failure in the logs.
		o.logger.Debug("empty transcription", "error", ErrEmptyTranscription)
		o.setState(StateListeningForWakeWord)
		return
	}
	o.emit(Event{Type: EventTranscriptionFinal, Data: text})
	o.sessionUtterances++
	o.startSpeaking(ctx, text)
}

// startSpeaking adds the user message to context, starts the LLM
// stream, and launches the producer/consumer pipeline (spec §4.11).
func (o *Orchestrator) startSpeaking(ctx context.Context, userText string) {
	o.convCtx.AddUser(userText)
	o.setState(StateSpeaking)

	pipelineCtx, cancel := context.WithCancel(ctx)
	o.pipelineCancel = cancel
	o.sb = newSpeakingState()
	o.consumerDone = make(chan struct{})

	tokens, err := o.llm.ChatStream(pipelineCtx, userText)
	if err != nil {
		o.logger.Error("llm chat_stream failed", "error", err)
		o.toError(newErr(KindEngineFailed, "language model generation failed", fmt.Errorf("%w: %v", ErrLLMFailed, err)))
		return
	}

	sb := o.sb
	done := o.consumerDone
	go o.runProducer(pipelineCtx, tokens, sb)
	go o.runConsumer(sb, done)
	go o.awaitPipelineCompletion(sb, done)
}

// awaitPipelineCompletion waits for the consumer to exit, then applies
// the natural-completion transition (follow-up or wake-word) iff the
// state is still Speaking (i.e. no barge-in preempted it).
func (o *Orchestrator) awaitPipelineCompletion(sb *speakingState, done <-chan struct{}) {
	<-done

	if o.stateSnapshot() != StateSpeaking {
		return
	}

	_, _, fullResponse := sb.snapshot()
	sentenceCount := len(sb.sentences)

	o.convCtx.AddAssistant(fullResponse)
	o.rec.Response(fullResponse, sentenceCount)
	o.emit(Event{Type: EventResponseComplete, Data: fullResponse})

	if !o.config.EnableFollowUp {
		o.setState(StateListeningForWakeWord)
		return
	}

	question, isQuestion := segmenter.ExtractLastQuestion(sb.sentences)
	o.lastResponseQ = question
	o.lastWasQuestion = isQuestion
	o.promptCount = 0
	o.enterAwaitingFollowUp(o.followUpTimeoutFor(isQuestion))
}

func (o *Orchestrator) followUpTimeoutFor(isQuestion bool) time.Duration {
	if isQuestion {
		return o.config.FollowUpTimeout
	}
	return o.config.StatementFollowUpTimeout
}

func (o *Orchestrator) enterAwaitingFollowUp(timeout time.Duration) {
	o.vad.Reset()
	o.utteranceBuf = nil
	o.followUpEnteredAt = time.Now()
	o.setState(StateAwaitingFollowUp)

	if o.followUpTimer != nil {
		o.followUpTimer.Stop()
	}
	o.followUpTimer = time.AfterFunc(timeout, o.onFollowUpTimeout)
}

// onFollowUpSpeech cancels the follow-up timer and transitions to
// Listening without resetting the VAD or clearing the buffer, since
// the buffer already holds the first speech frames (spec §4.3/§4.12).
func (o *Orchestrator) onFollowUpSpeech() {
	if o.followUpTimer != nil {
		o.followUpTimer.Stop()
	}
	o.setState(StateListening)
}

func (o *Orchestrator) onFollowUpTimeout() {
	if o.stateSnapshot() != StateAwaitingFollowUp {
		return
	}
	if o.promptCount == 0 && o.lastWasQuestion {
		o.promptCount = 1
		o.rePrompt()
		return
	}
	o.promptCount = 0
	o.setState(StateListeningForWakeWord)
}

// rePrompt re-synthesizes and speaks the stored question, then
// re-enters AwaitingFollowUp on completion.
func (o *Orchestrator) rePrompt() {
	o.setState(StatePrompting)
	sb := newSpeakingState()
	sb.sentences = []string{o.lastResponseQ}
	sb.fullResponse = o.lastResponseQ
	o.sb = sb

	ctx, cancel := context.WithCancel(context.Background())
	o.pipelineCancel = cancel
	result, err := o.tts.Synthesize(ctx, o.lastResponseQ)
	if err != nil {
		o.logger.Error("re-prompt synthesis failed", "error", err)
		o.enterAwaitingFollowUp(o.config.FollowUpTimeout)
		return
	}
	if o.stateSnapshot() != StatePrompting {
		return
	}
	sb.mu.Lock()
	sb.currentSentenceIndex = 0
	sb.mu.Unlock()
	o.audioSink.Play(result.PCM16(), result.SampleRate)
	if o.stateSnapshot() != StatePrompting {
		return
	}
	o.enterAwaitingFollowUp(o.config.FollowUpTimeout)
}

// toError transitions to Error, emits the advisory error event as an
// *Error, and recovers to ListeningForWakeWord after
// errorRecoveryDelay. The partially spoken response is discarded from
// context; the user's message is retained.
//
// Callers are expected to already hand in an *Error built with the
// Kind that matches the failure; this only normalizes the rare case
// where one reaches here unwrapped, so every EventErrorEvent carries
// the same shape.
func (o *Orchestrator) toError(err error) {
	var oe *Error
	if !errors.As(err, &oe) {
		oe = newErr(KindEngineFailed, err.Error(), err)
	}
	o.emit(Event{Type: EventErrorEvent, Data: oe})
	o.setState(StateError)
	time.AfterFunc(errorRecoveryDelay, func() {
		o.setState(StateListeningForWakeWord)
	})
}

// Dispose stops capture and the follow-up timer, cancels the speaking
// pipeline's context, stops the sink, shuts down the LLM and TTS, ends
// the recorder session and closes the event stream. It does not call
// the LLM's CancelStream, and the Stt, wake detector and cue players
// are not torn down here.
func (o *Orchestrator) Dispose() error {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return nil
	}
	o.disposed = true
	o.mu.Unlock()

	o.audioSource.Stop()
	if o.followUpTimer != nil {
		o.followUpTimer.Stop()
	}
	if o.pipelineCancel != nil {
		o.pipelineCancel()
	}
	o.audioSink.Stop()

	if err := o.llm.Shutdown(); err != nil {
		o.logger.Warn("llm shutdown", "error", err)
	}
	if err := o.tts.Close(); err != nil {
		o.logger.Warn("tts close", "error", err)
	}

	o.rec.SessionEnd(o.sessionUtterances, time.Since(o.sessionStart).Milliseconds())
	o.rec.Close()
	close(o.events)
	return nil
}
