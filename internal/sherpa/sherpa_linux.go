//go:build linux

// Package sherpa re-exports the platform-specific sherpa-onnx TTS
// bindings needed by internal/tts's Engine adapter, so the rest of the
// module can depend on a single cross-platform name.
package sherpa

import impl "github.com/k2-fsa/sherpa-onnx-go-linux"

type OfflineTts = impl.OfflineTts
type OfflineTtsConfig = impl.OfflineTtsConfig
type GeneratedAudio = impl.GeneratedAudio

var NewOfflineTts = impl.NewOfflineTts
var DeleteOfflineTts = impl.DeleteOfflineTts

// DefaultProvider returns the onnxruntime execution provider to request
// on this platform absent an explicit override.
func DefaultProvider() string { return "cpu" }
