package orchestrator

import (
	"context"
	"errors"
	"sync"
)

// mockRecorder captures the arguments of the last BargeIn call so
// tests can assert on sentence bookkeeping without a real recorder.
type mockRecorder struct {
	mu             sync.Mutex
	bargeInCalls   int
	sentenceIndex  int
	sentencesTotal int
	partialText    string
}

func (m *mockRecorder) SessionStart(config interface{})            {}
func (m *mockRecorder) WakeWord(keyword string)                    {}
func (m *mockRecorder) UserAudio(pcm []byte) (string, error)       { return "", nil }
func (m *mockRecorder) Transcription(text string, audioRef string) {}
func (m *mockRecorder) Response(text string, sentenceCount int)    {}
func (m *mockRecorder) BargeIn(sentenceIndex, sentencesTotal int, partialText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bargeInCalls++
	m.sentenceIndex = sentenceIndex
	m.sentencesTotal = sentencesTotal
	m.partialText = partialText
}
func (m *mockRecorder) SessionEnd(totalUtterances int, sessionDurationMs int64) {}
func (m *mockRecorder) Close() error                                           { return nil }

func (m *mockRecorder) snapshot() (calls, sentenceIndex, sentencesTotal int, partialText string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bargeInCalls, m.sentenceIndex, m.sentencesTotal, m.partialText
}

// mockSource is a scriptable audio.Source: frames are pushed onto
// the buffered frames channel via push by the test driving the
// orchestrator loop.
type mockSource struct {
	frames chan []byte
}

func newMockSource() *mockSource {
	return &mockSource{frames: make(chan []byte, 256)}
}

func (m *mockSource) Start() error         { return nil }
func (m *mockSource) Stop() []byte         { return nil }
func (m *mockSource) Frames() <-chan []byte { return m.frames }
func (m *mockSource) push(frame []byte)    { m.frames <- frame }

// mockSink records every buffer it was asked to play. If delay is
// non-nil, Play blocks on it before returning, letting tests preempt a
// playback in flight.
type mockSink struct {
	mu      sync.Mutex
	played  [][]byte
	playing bool
	delay   chan struct{}
}

func (m *mockSink) Play(pcm []byte, sampleRate int) error {
	m.mu.Lock()
	m.played = append(m.played, pcm)
	m.playing = false
	delay := m.delay
	m.mu.Unlock()
	if delay != nil {
		<-delay
	}
	return nil
}
func (m *mockSink) Stop()             { m.mu.Lock(); m.playing = false; m.mu.Unlock() }
func (m *mockSink) IsPlaying() bool   { m.mu.Lock(); defer m.mu.Unlock(); return m.playing }
func (m *mockSink) playCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.played)
}

// mockStt returns a scripted transcription.
type mockStt struct {
	text string
	err  error
}

func (m *mockStt) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	return m.text, m.err
}
func (m *mockStt) Name() string { return "mock_stt" }

// mockLlm streams its whole scripted sequence of tokens on each call to
// ChatStream, on an already-closed buffered channel. CancelStream only
// records that it was called.
type mockLlm struct {
	mu       sync.Mutex
	tokens   []string
	err      error
	cancelled bool
	ch       chan string
}

func (m *mockLlm) Chat(ctx context.Context, userMessage string) (string, error) {
	return "", errors.New("not implemented")
}

func (m *mockLlm) ChatStream(ctx context.Context, userMessage string) (<-chan string, error) {
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan string, len(m.tokens)+1)
	m.mu.Lock()
	m.ch = ch
	m.cancelled = false
	m.mu.Unlock()
	for _, tok := range m.tokens {
		ch <- tok
	}
	close(ch)
	return ch, nil
}

func (m *mockLlm) CancelStream() {
	m.mu.Lock()
	m.cancelled = true
	m.mu.Unlock()
}

func (m *mockLlm) ClearContext(ctx context.Context) error { return nil }
func (m *mockLlm) Shutdown() error                        { return nil }
func (m *mockLlm) Name() string                           { return "mock_llm" }

// mockTts synthesizes instantly, echoing the sentence length as the
// sample count so tests can assert on call order without real audio.
type mockTts struct {
	mu     sync.Mutex
	calls  []string
	delay  chan struct{}
	err    error
}

func (m *mockTts) Synthesize(ctx context.Context, text string) (TtsResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()
	if m.delay != nil {
		<-m.delay
	}
	if m.err != nil {
		return TtsResult{}, m.err
	}
	return TtsResult{Samples: make([]float32, len(text)), SampleRate: 22050}, nil
}

func (m *mockTts) SampleRate() int { return 22050 }
func (m *mockTts) Close() error    { return nil }
