// Engine adapts sherpa-onnx's offline VITS synthesizer to
// internal/tts.Engine, grounded on
// agalue-sherpa-voice-assistant/internal/tts/synthesizer.go's
// NewSynthesizer/Synthesize/Close shape, trimmed to the fields named in
// the config table (model, tokens, data dir) and re-targeted from
// Kokoro to VITS so no voices.bin is required.
package sherpa

import (
	"fmt"
	"strings"
	"sync"
)

// EngineConfig names the on-disk files a VITS model needs, matching the
// tts_model_path/tts_tokens_path/tts_data_dir configuration fields.
type EngineConfig struct {
	ModelPath string
	TokensPath string
	DataDir    string
	NumThreads int
	Provider   string
}

// Engine wraps a sherpa-onnx OfflineTts instance. The underlying engine
// is single-threaded; Engine serializes access with a mutex so it is
// safe to hand directly to internal/tts.Worker (which already
// serializes through one goroutine, but Engine does not assume that).
type Engine struct {
	mu  sync.Mutex
	tts *OfflineTts
	sr  int
}

// NewEngine loads a VITS model per cfg.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = DefaultProvider()
	}
	numThreads := cfg.NumThreads
	if numThreads <= 0 {
		numThreads = 2
	}

	ttsConfig := &OfflineTtsConfig{}
	ttsConfig.Model.Vits.Model = cfg.ModelPath
	ttsConfig.Model.Vits.Tokens = cfg.TokensPath
	ttsConfig.Model.Vits.DataDir = cfg.DataDir
	ttsConfig.Model.Vits.LengthScale = 1.0
	ttsConfig.Model.NumThreads = numThreads
	ttsConfig.Model.Provider = provider
	ttsConfig.MaxNumSentences = 1

	tts := NewOfflineTts(ttsConfig)
	if tts == nil {
		return nil, fmt.Errorf("sherpa: failed to load VITS model from %s", cfg.ModelPath)
	}
	return &Engine{tts: tts, sr: 0}, nil
}

// Synthesize satisfies internal/tts.Engine.
func (e *Engine) Synthesize(text string, speed float64, speakerID int) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("sherpa: empty text")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	audio := e.tts.Generate(text, speakerID, float32(speed))
	if audio == nil || len(audio.Samples) == 0 {
		return nil, fmt.Errorf("sherpa: generation produced no samples")
	}
	e.sr = int(audio.SampleRate)
	return audio.Samples, nil
}

// SampleRate returns the model's native output sample rate. It is 0
// until the first successful Synthesize call.
func (e *Engine) SampleRate() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sr
}

// Close releases the underlying onnxruntime session.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tts != nil {
		DeleteOfflineTts(e.tts)
		e.tts = nil
	}
	return nil
}
