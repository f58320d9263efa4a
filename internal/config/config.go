// Package config loads the frozen Config struct the orchestrator core
// is constructed with. Loading and validation are an external
// collaborator boundary per spec §1; this package exists to produce
// that frozen struct from a YAML file with environment-variable
// overrides, in the teacher's own env-var-driven style (cmd/agent/main.go).
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the frozen configuration object consumed at orchestrator
// construction. Field names mirror spec §6's table.
type Config struct {
	WhisperModelPath      string `yaml:"whisper_model_path"`
	WhisperExecutable     string `yaml:"whisper_executable"`
	WhisperServerExecutable string `yaml:"whisper_server_executable"`

	LlamaModelRepo   string `yaml:"llama_model_repo"`
	LlamaExecutable  string `yaml:"llama_executable"`

	WakewordEncoderPath  string `yaml:"wakeword_encoder_path"`
	WakewordDecoderPath  string `yaml:"wakeword_decoder_path"`
	WakewordJoinerPath   string `yaml:"wakeword_joiner_path"`
	WakewordTokensPath   string `yaml:"wakeword_tokens_path"`
	WakewordKeywordsFile string `yaml:"wakeword_keywords_file"`

	TTSModelPath  string `yaml:"tts_model_path"`
	TTSTokensPath string `yaml:"tts_tokens_path"`
	TTSDataDir    string `yaml:"tts_data_dir"`
	SherpaLibPath string `yaml:"sherpa_lib_path"`

	SystemPrompt string `yaml:"system_prompt"`

	SilenceThreshold  float64 `yaml:"silence_threshold"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`

	MaxHistoryLength int `yaml:"max_history_length"`

	SentencePauseMs int `yaml:"sentence_pause_ms"`

	EnableFollowUp             bool `yaml:"enable_follow_up"`
	FollowUpTimeoutMs          int  `yaml:"follow_up_timeout_ms"`
	StatementFollowUpTimeoutMs int  `yaml:"statement_follow_up_timeout_ms"`

	EnableBargeIn bool `yaml:"enable_barge_in"`

	AcknowledgmentDir string `yaml:"acknowledgment_dir"`
	BargeInDir        string `yaml:"barge_in_dir"`

	RecordingEnabled bool   `yaml:"recording_enabled"`
	SessionDir       string `yaml:"session_dir"`

	AudioPlayer     string `yaml:"audio_player"`
	AudioPlayerPath string `yaml:"audio_player_path"`
}

// Default returns a Config with every documented default applied.
func Default() Config {
	return Config{
		SilenceThreshold:           0.01,
		SilenceDurationMs:          800,
		MaxHistoryLength:           10,
		SentencePauseMs:            300,
		EnableFollowUp:             true,
		FollowUpTimeoutMs:          4000,
		StatementFollowUpTimeoutMs: 4000,
		EnableBargeIn:              true,
		RecordingEnabled:           false,
		SessionDir:                 "./sessions",
	}
}

// Load reads a YAML file at path (if present), starting from Default,
// then applies environment-variable overrides loaded via godotenv,
// matching the teacher's cmd/agent/main.go pattern of falling back to
// already-exported environment variables when no .env file exists.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	applyEnvOverrides(&cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VOXCORE_WHISPER_MODEL_PATH"); v != "" {
		cfg.WhisperModelPath = v
	}
	if v := os.Getenv("VOXCORE_WHISPER_EXECUTABLE"); v != "" {
		cfg.WhisperExecutable = v
	}
	if v := os.Getenv("VOXCORE_WHISPER_SERVER_EXECUTABLE"); v != "" {
		cfg.WhisperServerExecutable = v
	}
	if v := os.Getenv("VOXCORE_LLAMA_MODEL_REPO"); v != "" {
		cfg.LlamaModelRepo = v
	}
	if v := os.Getenv("VOXCORE_LLAMA_EXECUTABLE"); v != "" {
		cfg.LlamaExecutable = v
	}
	if v := os.Getenv("VOXCORE_SYSTEM_PROMPT"); v != "" {
		cfg.SystemPrompt = v
	}
	if v := os.Getenv("VOXCORE_SILENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SilenceThreshold = f
		}
	}
	if v := os.Getenv("VOXCORE_RECORDING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RecordingEnabled = b
		}
	}
	if v := os.Getenv("VOXCORE_SESSION_DIR"); v != "" {
		cfg.SessionDir = v
	}
}

// Validate returns an error naming a missing required field, or nil.
// The error is a plain fmt error, not an orchestrator.Error of
// KindConfig. When several required fields are missing, which one is
// named is not fixed (the fields are checked in map iteration order).
// Validation failure is handled by the caller, not the core, per spec
// §1/§7.
func Validate(cfg Config) error {
	required := map[string]string{
		"whisper_model_path": cfg.WhisperModelPath,
		"whisper_executable": cfg.WhisperExecutable,
		"llama_model_repo":   cfg.LlamaModelRepo,
		"llama_executable":   cfg.LlamaExecutable,
		"tts_model_path":     cfg.TTSModelPath,
	}
	for key, v := range required {
		if v == "" {
			return fmt.Errorf("config: missing required field %q", key)
		}
	}
	return nil
}
