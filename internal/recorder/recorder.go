// Package recorder implements the Recorder interface: an append-only
// JSONL session timeline plus per-session WAV persistence of user
// audio. Grounded on the teacher's OrchestratorEvent/EventType shape
// (pkg/orchestrator/types.go), generalized to spec's session-event
// taxonomy.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lokutor-ai/voxcore/internal/audio"
)

// Recorder appends structured timeline events and optionally persists
// user audio. It is optional; Null is used when recording is disabled.
type Recorder interface {
	SessionStart(config interface{})
	WakeWord(keyword string)
	UserAudio(pcm []byte) (fileRef string, err error)
	Transcription(text string, audioRef string)
	Response(text string, sentenceCount int)
	BargeIn(sentenceIndex, sentencesTotal int, partialText string)
	SessionEnd(totalUtterances int, sessionDurationMs int64)
	Close() error
}

// Null is a Recorder that discards everything. Cue or recorder
// failures must never block orchestration; disabling recording
// entirely uses this implementation.
type Null struct{}

func (Null) SessionStart(config interface{})                                 {}
func (Null) WakeWord(keyword string)                                         {}
func (Null) UserAudio(pcm []byte) (string, error)                            { return "", nil }
func (Null) Transcription(text string, audioRef string)                      {}
func (Null) Response(text string, sentenceCount int)                        {}
func (Null) BargeIn(sentenceIndex, sentencesTotal int, partialText string)    {}
func (Null) SessionEnd(totalUtterances int, sessionDurationMs int64)          {}
func (Null) Close() error                                                    { return nil }

type event struct {
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// JSONL is a Recorder that appends one JSON event per line to
// session.jsonl and stores user utterances as audio/NNN_user.wav under
// a per-session directory.
type JSONL struct {
	mu        sync.Mutex
	dir       string
	file      *os.File
	audioSeq  int
}

// New creates a session directory session_<ISO-timestamp>/ under
// baseDir and opens its session.jsonl for append.
func New(baseDir string) (*JSONL, error) {
	sessionDir := filepath.Join(baseDir, "session_"+time.Now().UTC().Format("20060102T150405Z"))
	if err := os.MkdirAll(filepath.Join(sessionDir, "audio"), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(sessionDir, "session.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONL{dir: sessionDir, file: f}, nil
}

func (r *JSONL) write(typ string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := event{Type: typ, Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Data: data}
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	r.file.Write(append(b, '\n'))
}

func (r *JSONL) SessionStart(config interface{}) {
	r.write("session_start", map[string]interface{}{"config": config})
}

func (r *JSONL) WakeWord(keyword string) {
	r.write("wake_word", map[string]interface{}{"keyword": keyword})
}

// UserAudio wraps pcm in the canonical WAV header and stores it under
// audio/NNN_user.wav, returning the file reference recorded alongside
// the transcription event.
func (r *JSONL) UserAudio(pcm []byte) (string, error) {
	r.mu.Lock()
	r.audioSeq++
	seq := r.audioSeq
	dir := r.dir
	r.mu.Unlock()

	name := fmt.Sprintf("%03d_user.wav", seq)
	path := filepath.Join(dir, "audio", name)
	wav := audio.WriteWav(pcm, 16000)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", err
	}

	ref := filepath.Join("audio", name)
	r.write("user_audio", map[string]interface{}{
		"file":        ref,
		"duration_ms": durationMs(len(pcm)),
		"size_bytes":  len(wav),
	})
	return ref, nil
}

func (r *JSONL) Transcription(text string, audioRef string) {
	r.write("transcription", map[string]interface{}{"text": text, "audio_ref": audioRef})
}

func (r *JSONL) Response(text string, sentenceCount int) {
	r.write("response", map[string]interface{}{"text": text, "sentence_count": sentenceCount})
}

func (r *JSONL) BargeIn(sentenceIndex, sentencesTotal int, partialText string) {
	r.write("barge_in", map[string]interface{}{
		"sentence_index":  sentenceIndex,
		"sentences_total": sentencesTotal,
		"partial_text":    partialText,
	})
}

func (r *JSONL) SessionEnd(totalUtterances int, sessionDurationMs int64) {
	r.write("session_end", map[string]interface{}{
		"total_utterances":    totalUtterances,
		"session_duration_ms": sessionDurationMs,
	})
}

func (r *JSONL) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

func durationMs(pcmBytes int) int64 {
	const bytesPerMs = 16000 * 2 / 1000
	return int64(pcmBytes / bytesPerMs)
}
