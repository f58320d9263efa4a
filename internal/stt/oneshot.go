package stt

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/lokutor-ai/voxcore/internal/audio"
	"github.com/lokutor-ai/voxcore/internal/orchestrator"
)

// infoPrefixes are stdout line prefixes the one-shot binary uses for
// progress/status noise that must be dropped before the transcript is
// recovered.
var infoPrefixes = []string{"[", "whisper_", "main:", "system_info:", "output_"}

// OneShot is one-shot-mode Stt: each call spawns the STT binary fresh
// against a temp WAV file. No pack example spawns a subprocess per STT
// call; this is built directly on os/exec per spec §4.5 (see
// DESIGN.md for the stdlib justification).
type OneShot struct {
	executable string
	modelPath  string
	extraArgs  []string
}

// NewOneShot constructs a one-shot Stt invoking executable with
// modelPath and any extraArgs, in addition to the fixed flags that
// disable timestamps and progress prints.
func NewOneShot(executable, modelPath string, extraArgs ...string) *OneShot {
	return &OneShot{executable: executable, modelPath: modelPath, extraArgs: extraArgs}
}

// Name satisfies orchestrator.Stt.
func (o *OneShot) Name() string { return "stt_oneshot" }

// Transcribe writes pcm to a temp WAV file, spawns the binary against
// it, and parses stdout by dropping known info-prefixed or
// timing/status lines.
func (o *OneShot) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	tmp, err := os.CreateTemp("", "voxcore-utterance-*.wav")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(audio.WriteWav(pcm, SampleRate)); err != nil {
		tmp.Close()
		return "", err
	}
	tmp.Close()

	args := append([]string{
		"--model", o.modelPath,
		"--file", tmp.Name(),
		"--no-timestamps",
		"--no-prints",
	}, o.extraArgs...)

	cmd := exec.CommandContext(ctx, o.executable, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", orchestrator.NewError(orchestrator.KindEngineFailed, "whisper one-shot subprocess failed", err)
	}

	return parseOneShotOutput(string(out)), nil
}

func parseOneShotOutput(out string) string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if hasKnownInfoPrefix(trimmed) {
			continue
		}
		lines = append(lines, trimmed)
	}
	return strings.TrimSpace(strings.Join(lines, " "))
}

func hasKnownInfoPrefix(line string) bool {
	for _, prefix := range infoPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
