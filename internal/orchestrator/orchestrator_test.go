package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitForState(t *testing.T, o *Orchestrator, want AssistantState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if o.stateSnapshot() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, last was %v", want, o.stateSnapshot())
}

func newHappyPathOrchestrator() (*Orchestrator, *mockSink) {
	stt := &mockStt{text: "what time is it"}
	llmImpl := &mockLlm{tokens: []string{"It is noon. "}}
	ttsImpl := &mockTts{}
	sink := &mockSink{}
	cfg := DefaultConfig()
	cfg.SentencePause = 0
	cfg.SilenceDuration = 30 * time.Millisecond
	src := newMockSource()
	vad := NewVad(0.1, cfg.SilenceDuration)
	wake := NewWakeDetector(&fixedSpotter{keyword: "hey", armed: true})
	o := New(stt, llmImpl, ttsImpl, vad, wake, src, sink, nil, nil, nil, cfg, nil)
	return o, sink
}

// TestHappyPathFullTurn drives wake -> utterance -> response without
// follow-up speech, confirming the state machine reaches
// AwaitingFollowUp (EnableFollowUp defaults true) after a complete
// turn and that the response was actually synthesized and played.
func TestHappyPathFullTurn(t *testing.T) {
	o, sink := newHappyPathOrchestrator()
	src := o.audioSource.(*mockSource)

	go o.Start(context.Background())
	waitForState(t, o, StateListeningForWakeWord, time.Second)

	src.push(make([]byte, 320))
	waitForState(t, o, StateListening, time.Second)

	src.push(pcmFrame(0.5, 160))
	time.Sleep(10 * time.Millisecond)
	// The VAD's silence hangover is measured in wall time between
	// Process calls, not frame count, so the first sub-threshold frame
	// only starts the timer; a second one after it elapses is what
	// actually fires the Silence transition.
	src.push(pcmFrame(0.0, 160))
	time.Sleep(60 * time.Millisecond)
	src.push(pcmFrame(0.0, 160))

	waitForState(t, o, StateAwaitingFollowUp, 2*time.Second)

	if sink.playCount() == 0 {
		t.Fatal("expected at least one sentence played")
	}
}

// TestBargeInDuringSpeakingReturnsToListening confirms a wake event
// during Speaking preempts the pipeline and transitions straight back
// to Listening without completing the response.
func TestBargeInDuringSpeakingReturnsToListening(t *testing.T) {
	llmImpl := &mockLlm{tokens: []string{"One. ", "Two. ", "Three. "}}
	ttsImpl := &mockTts{delay: make(chan struct{})}
	sink := &mockSink{}
	o := newTestOrchestrator(&mockStt{}, llmImpl, ttsImpl, sink)
	o.wake = NewWakeDetector(&fixedSpotter{keyword: "hey", armed: true})

	o.startSpeaking(context.Background(), "tell me a story")
	waitForState(t, o, StateSpeaking, time.Second)

	o.handleWakeCandidate(make([]byte, 320))
	close(ttsImpl.delay)

	waitForState(t, o, StateListening, 2*time.Second)
}

// TestBargeInDuringPromptingReturnsToListening confirms a wake event
// during a re-prompt preempts the synthesis and reports the single
// re-prompt sentence's bookkeeping on the barge-in, not the degraded
// "no speakingState" fallback.
func TestBargeInDuringPromptingReturnsToListening(t *testing.T) {
	ttsImpl := &mockTts{}
	sink := &mockSink{delay: make(chan struct{})}
	rec := &mockRecorder{}
	src := newMockSource()
	vad := NewVad(0.1, 50*time.Millisecond)
	wake := NewWakeDetector(&fixedSpotter{keyword: "hey", armed: true})
	cfg := DefaultConfig()
	cfg.SentencePause = 0
	o := New(&mockStt{}, &mockLlm{}, ttsImpl, vad, wake, src, sink, nil, nil, rec, cfg, nil)
	o.lastResponseQ = "anything else?"

	go o.rePrompt()
	deadline := time.Now().Add(time.Second)
	for sink.playCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if sink.playCount() == 0 {
		t.Fatal("timed out waiting for re-prompt playback to start")
	}

	o.handleWakeCandidate(make([]byte, 320))
	close(sink.delay)

	waitForState(t, o, StateListening, 2*time.Second)

	calls, sentenceIndex, sentencesTotal, partialText := rec.snapshot()
	if calls != 1 {
		t.Fatalf("expected exactly one BargeIn call, got %d", calls)
	}
	if sentenceIndex != 0 || sentencesTotal != 1 || partialText != "anything else?" {
		t.Fatalf("expected sentence_index=0 sentences_total=1 partial_text=%q, got sentence_index=%d sentences_total=%d partial_text=%q",
			"anything else?", sentenceIndex, sentencesTotal, partialText)
	}
}

// TestFollowUpQuestionRePromptsOnce confirms a question response that
// gets no follow-up speech within the timeout triggers exactly one
// re-prompt before giving up to ListeningForWakeWord.
func TestFollowUpQuestionRePromptsOnce(t *testing.T) {
	llmImpl := &mockLlm{tokens: []string{"Anything else? "}}
	ttsImpl := &mockTts{}
	sink := &mockSink{}
	o := newTestOrchestrator(&mockStt{}, llmImpl, ttsImpl, sink)
	o.config.FollowUpTimeout = 30 * time.Millisecond
	o.config.StatementFollowUpTimeout = 30 * time.Millisecond

	o.startSpeaking(context.Background(), "hi")
	waitForState(t, o, StateAwaitingFollowUp, time.Second)

	// First timeout: expect one re-prompt cycle, landing back in
	// AwaitingFollowUp with promptCount consumed. promptCount flips to 1
	// synchronously within the same callback that re-enters
	// AwaitingFollowUp, so polling for it catches both together, well
	// before the second (equally long) timeout can fire.
	deadline := time.Now().Add(time.Second)
	for o.promptCount != 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if o.promptCount != 1 {
		t.Fatal("timed out waiting for the first follow-up timeout to re-prompt")
	}
	if o.stateSnapshot() != StateAwaitingFollowUp {
		t.Fatalf("expected AwaitingFollowUp after re-prompt, got %v", o.stateSnapshot())
	}

	// Second timeout with still no follow-up speech: gives up to
	// wake-word listening.
	waitForState(t, o, StateListeningForWakeWord, time.Second)
}

// TestFollowUpSpeechDoesNotResetVad is the regression test for the one
// invariant violation this package must never reintroduce: the VAD
// must still be "speaking" (not reset) after the AwaitingFollowUp ->
// Listening transition, since the first follow-up frames were already
// fed into it before the transition fired.
func TestFollowUpSpeechDoesNotResetVad(t *testing.T) {
	o, _ := newHappyPathOrchestrator()
	o.setState(StateAwaitingFollowUp)
	o.followUpEnteredAt = time.Now().Add(-time.Second)
	o.vad.Process(pcmFrame(0.5, 160))
	if !o.vad.IsSpeaking() {
		t.Fatal("setup: expected VAD speaking before follow-up speech transition")
	}

	o.onFollowUpSpeech()

	if !o.vad.IsSpeaking() {
		t.Fatal("onFollowUpSpeech must not reset the VAD's speaking state")
	}
}

// TestEmptyTranscriptionReturnsToWakeWord confirms that an empty STT
// result skips the speaking pipeline entirely.
func TestEmptyTranscriptionReturnsToWakeWord(t *testing.T) {
	stt := &mockStt{text: ""}
	llmImpl := &mockLlm{}
	ttsImpl := &mockTts{}
	sink := &mockSink{}
	o := newTestOrchestrator(stt, llmImpl, ttsImpl, sink)
	o.setState(StateListening)
	o.utteranceBuf = []byte{1, 2, 3}

	o.onUtteranceComplete()

	if o.stateSnapshot() != StateListeningForWakeWord {
		t.Fatalf("expected return to ListeningForWakeWord on empty transcription, got %v", o.stateSnapshot())
	}
}

// TestSttFailureEntersErrorAndRecovers confirms a transcription failure
// takes the error path and self-recovers.
func TestSttFailureEntersErrorAndRecovers(t *testing.T) {
	stt := &mockStt{err: errors.New("boom")}
	llmImpl := &mockLlm{}
	ttsImpl := &mockTts{}
	sink := &mockSink{}
	o := newTestOrchestrator(stt, llmImpl, ttsImpl, sink)
	o.setState(StateListening)
	o.utteranceBuf = []byte{1, 2, 3}

	o.onUtteranceComplete()

	if o.stateSnapshot() != StateError {
		t.Fatalf("expected StateError immediately after stt failure, got %v", o.stateSnapshot())
	}
	waitForState(t, o, StateListeningForWakeWord, 2*time.Second)
}
