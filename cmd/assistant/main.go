// Command assistant wires the configured STT/LLM/TTS subprocesses and
// audio device into an orchestrator.Orchestrator and runs it until
// interrupted, in the teacher's cmd/agent/main.go style: env/.env
// driven configuration, log.Fatal on missing requirements, a signal
// channel for graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lokutor-ai/voxcore/internal/audio"
	"github.com/lokutor-ai/voxcore/internal/config"
	"github.com/lokutor-ai/voxcore/internal/llm"
	"github.com/lokutor-ai/voxcore/internal/metrics"
	"github.com/lokutor-ai/voxcore/internal/orchestrator"
	"github.com/lokutor-ai/voxcore/internal/recorder"
	"github.com/lokutor-ai/voxcore/internal/sherpa"
	"github.com/lokutor-ai/voxcore/internal/stt"
	"github.com/lokutor-ai/voxcore/internal/tts"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	sttImpl, sttCloser := buildStt(cfg, logger)
	defer sttCloser()

	llmProcess := llm.NewProcess(cfg.LlamaExecutable, []string{"--model", cfg.LlamaModelRepo}, 30*time.Second, 20*time.Second)
	if err := llmProcess.Initialize(context.Background()); err != nil {
		log.Fatalf("llm: %v", err)
	}

	if cfg.SherpaLibPath != "" {
		// sherpa-onnx-go loads its native shared library via cgo at
		// process start; point the dynamic linker at a non-default
		// install location before the first call into the package.
		prependLibraryPath(cfg.SherpaLibPath)
	}

	engine, err := sherpa.NewEngine(sherpa.EngineConfig{
		ModelPath:  cfg.TTSModelPath,
		TokensPath: cfg.TTSTokensPath,
		DataDir:    cfg.TTSDataDir,
	})
	if err != nil {
		log.Fatalf("tts engine: %v", err)
	}
	ttsWorker := tts.NewWorker(engine, 1.0, 0)

	src, sink, err := audio.NewDevice()
	if err != nil {
		log.Fatalf("audio device: %v", err)
	}

	var playbackSink audio.Sink = sink
	if cfg.AudioPlayer != "" || cfg.AudioPlayerPath != "" {
		cmdSink, err := audio.NewCommandSink(cfg.AudioPlayerPath)
		if err != nil {
			log.Fatalf("audio player: %v", err)
		}
		playbackSink = cmdSink
	}

	wakeCue, err := audio.NewCuePlayer(playbackSink, cfg.AcknowledgmentDir)
	if err != nil {
		log.Fatalf("wake cue dir: %v", err)
	}
	bargeInCue, err := audio.NewCuePlayer(playbackSink, cfg.BargeInDir)
	if err != nil {
		log.Fatalf("barge-in cue dir: %v", err)
	}

	var rec recorder.Recorder = recorder.Null{}
	if cfg.RecordingEnabled {
		jsonl, err := recorder.New(cfg.SessionDir)
		if err != nil {
			log.Fatalf("recorder: %v", err)
		}
		rec = jsonl
	}

	vad := orchestrator.NewVad(cfg.SilenceThreshold, time.Duration(cfg.SilenceDurationMs)*time.Millisecond)
	wake := orchestrator.NewWakeDetector(newWakewordSpotter(cfg))

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.SilenceThreshold = cfg.SilenceThreshold
	orchCfg.SilenceDuration = time.Duration(cfg.SilenceDurationMs) * time.Millisecond
	orchCfg.MaxHistoryLength = cfg.MaxHistoryLength
	orchCfg.SentencePause = time.Duration(cfg.SentencePauseMs) * time.Millisecond
	orchCfg.EnableFollowUp = cfg.EnableFollowUp
	orchCfg.FollowUpTimeout = time.Duration(cfg.FollowUpTimeoutMs) * time.Millisecond
	orchCfg.StatementFollowUpTimeout = time.Duration(cfg.StatementFollowUpTimeoutMs) * time.Millisecond
	orchCfg.EnableBargeIn = cfg.EnableBargeIn

	orch := orchestrator.New(sttImpl, llmProcess, ttsWorker, vad, wake, src, playbackSink, wakeCue, bargeInCue, rec, orchCfg, &slogLogger{logger})
	if cfg.SystemPrompt != "" {
		orch.SetSystemPrompt(cfg.SystemPrompt)
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)
	go logEvents(orch, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := orch.Start(ctx); err != nil {
			log.Fatalf("orchestrator: %v", err)
		}
	}()

	fmt.Println("voxcore started. Say the wake word, then speak. Ctrl+C to exit.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("\nshutting down...")
	cancel()
	orch.Dispose()
}

func buildStt(cfg config.Config, logger *slog.Logger) (orchestrator.Stt, func()) {
	if cfg.WhisperServerExecutable != "" {
		baseURL := "http://127.0.0.1:8090"
		cmd := exec.Command(cfg.WhisperServerExecutable, "--model", cfg.WhisperModelPath, "--port", "8090")
		if err := cmd.Start(); err != nil {
			log.Fatalf("whisper server spawn: %v", err)
		}
		server := stt.NewServer(baseURL)
		if err := server.WaitReady(context.Background(), 30*time.Second); err != nil {
			log.Fatalf("whisper server: %v", err)
		}
		return server, func() {
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
		}
	}
	return stt.NewOneShot(cfg.WhisperExecutable, cfg.WhisperModelPath), func() {}
}

// logEvents subscribes to the orchestrator's advisory event stream and
// logs each one; this is the only consumer main.go provides, per
// spec's "advisory, core never blocks on a subscriber" guarantee.
func logEvents(o *orchestrator.Orchestrator, logger *slog.Logger) {
	for evt := range o.Events() {
		switch evt.Type {
		case orchestrator.EventStateChanged:
			logger.Info("state", "to", evt.Data)
		case orchestrator.EventTranscriptionFinal:
			logger.Info("transcription", "text", evt.Data)
		case orchestrator.EventResponseSentence:
			logger.Debug("sentence", "text", evt.Data)
		case orchestrator.EventResponseComplete:
			logger.Info("response complete")
		case orchestrator.EventBargeIn:
			metrics.BargeInTotal.Inc()
			logger.Info("barge-in", "partial", evt.Data)
		case orchestrator.EventErrorEvent:
			logger.Error("orchestrator error", "error", evt.Data)
		}
		if evt.Type == orchestrator.EventStateChanged {
			if s, ok := evt.Data.(orchestrator.AssistantState); ok {
				metrics.StateTransitionsTotal.WithLabelValues(s.String()).Inc()
			}
		}
	}
}

// slogLogger adapts log/slog to orchestrator.Logger.
type slogLogger struct{ l *slog.Logger }

func (s *slogLogger) Debug(msg string, args ...interface{}) { s.l.Debug(msg, args...) }
func (s *slogLogger) Info(msg string, args ...interface{})  { s.l.Info(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...interface{})  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...interface{}) { s.l.Error(msg, args...) }

// wakewordSpotter is a minimal KeywordSpotter baseline: it validates
// that the configured model files exist but does not run real
// streaming keyword-spotting inference. No pack example exposes an
// ONNX streaming keyword-spotting API to ground a real binding (see
// DESIGN.md); swapping in one is a matter of satisfying
// orchestrator.KeywordSpotter.
type wakewordSpotter struct {
	keyword string
}

func newWakewordSpotter(cfg config.Config) *wakewordSpotter {
	for _, p := range []string{cfg.WakewordEncoderPath, cfg.WakewordDecoderPath, cfg.WakewordJoinerPath, cfg.WakewordTokensPath} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			log.Printf("wakeword model file %s: %v", p, err)
		}
	}
	keyword := "assistant"
	if data, err := os.ReadFile(cfg.WakewordKeywordsFile); err == nil && len(data) > 0 {
		keyword = string(data)
	}
	return &wakewordSpotter{keyword: keyword}
}

func (w *wakewordSpotter) Process(frame []byte) (string, bool) { return "", false }
func (w *wakewordSpotter) Reset()                              {}

// prependLibraryPath adds dir to the platform's shared-library search
// path environment variable, for a sherpa-onnx build installed outside
// the default linker search path.
func prependLibraryPath(dir string) {
	varName := "LD_LIBRARY_PATH"
	if runtime.GOOS == "darwin" {
		varName = "DYLD_LIBRARY_PATH"
	}
	existing := os.Getenv(varName)
	if existing == "" {
		os.Setenv(varName, dir)
		return
	}
	os.Setenv(varName, dir+string(os.PathListSeparator)+existing)
}
