package audio

import (
	"os/exec"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// Source produces a continuous stream of 16-bit little-endian mono PCM
// frames at 16 kHz. It must never block the routing loop waiting on
// I/O; frames are delivered on a buffered channel instead.
type Source interface {
	Start() error
	// Stop halts capture and returns everything accumulated since
	// Start.
	Stop() []byte
	// Frames is a channel of PCM chunks as they arrive.
	Frames() <-chan []byte
}

// Sink plays a PCM buffer at a given sample rate, supporting
// preemptive stop. Play is expected to return strictly after the
// audio is audibly finished so the orchestrator can sequence
// inter-sentence pauses correctly.
type Sink interface {
	Play(pcm []byte, sampleRate int) error
	Stop()
	IsPlaying() bool
}

// DeviceSampleRate is the fixed capture/playback rate used by this
// package's malgo device: the 16 kHz wire PCM rate used throughout the
// system, so captured frames need no resampling.
const DeviceSampleRate = 16000

// deviceCore is the shared malgo duplex device state. DeviceSource and
// DeviceSink are thin views over the same core so each can satisfy its
// interface's Stop() signature without colliding (Source.Stop returns
// []byte, Sink.Stop returns nothing).
type deviceCore struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu            sync.Mutex
	playbackBytes []byte
	playing       bool
	playDone      chan struct{}

	framesMu sync.Mutex
	captured []byte
	frames   chan []byte
}

// DeviceSource is the capture half of a duplex malgo device.
type DeviceSource struct{ core *deviceCore }

// DeviceSink is the playback half of a duplex malgo device.
type DeviceSink struct{ core *deviceCore }

// NewDevice initializes the malgo context and a duplex device at
// DeviceSampleRate, mono, 16-bit, returning its capture and playback
// halves. Grounded on the teacher's cmd/agent/main.go onSamples
// callback: capture frames are published on a channel, playback bytes
// are drained from a buffer under a mutex.
func NewDevice() (*DeviceSource, *DeviceSink, error) {
	d := &deviceCore{frames: make(chan []byte, 64)}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, nil, err
	}
	d.ctx = mctx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = DeviceSampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: d.onSamples,
	})
	if err != nil {
		mctx.Uninit()
		return nil, nil, err
	}
	d.device = device
	return &DeviceSource{core: d}, &DeviceSink{core: d}, nil
}

func (d *deviceCore) onSamples(pOutput, pInput []byte, frameCount uint32) {
	if pInput != nil {
		chunk := make([]byte, len(pInput))
		copy(chunk, pInput)

		d.framesMu.Lock()
		d.captured = append(d.captured, chunk...)
		d.framesMu.Unlock()

		select {
		case d.frames <- chunk:
		default:
		}
	}
	if pOutput != nil {
		d.mu.Lock()
		n := copy(pOutput, d.playbackBytes)
		d.playbackBytes = d.playbackBytes[n:]
		drained := len(d.playbackBytes) == 0
		d.mu.Unlock()

		if n < len(pOutput) {
			for i := n; i < len(pOutput); i++ {
				pOutput[i] = 0
			}
		}
		if drained {
			d.signalDrained()
		}
	}
}

func (d *deviceCore) signalDrained() {
	d.mu.Lock()
	done := d.playDone
	playing := d.playing
	d.playing = false
	d.mu.Unlock()
	if playing && done != nil {
		close(done)
	}
}

// Start begins capture/playback.
func (s *DeviceSource) Start() error {
	return s.core.device.Start()
}

// Stop halts the device and returns accumulated captured PCM.
func (s *DeviceSource) Stop() []byte {
	s.core.device.Stop()
	s.core.framesMu.Lock()
	out := s.core.captured
	s.core.captured = nil
	s.core.framesMu.Unlock()
	return out
}

// Frames returns the channel of captured PCM chunks.
func (s *DeviceSource) Frames() <-chan []byte {
	return s.core.frames
}

// Play enqueues pcm for playback and blocks until the device has
// drained it (or Stop preempts it).
func (s *DeviceSink) Play(pcm []byte, sampleRate int) error {
	d := s.core
	d.mu.Lock()
	d.playbackBytes = append(d.playbackBytes, pcm...)
	d.playing = true
	done := make(chan struct{})
	d.playDone = done
	d.mu.Unlock()

	<-done
	return nil
}

// Stop preempts any in-flight playback within ~100ms by discarding
// queued bytes immediately.
func (s *DeviceSink) Stop() {
	d := s.core
	d.mu.Lock()
	d.playbackBytes = nil
	playing := d.playing
	done := d.playDone
	d.playing = false
	d.mu.Unlock()
	if playing && done != nil {
		close(done)
	}
}

// IsPlaying reports whether playback is currently in flight.
func (s *DeviceSink) IsPlaying() bool {
	d := s.core
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playing
}

// Close tears down the shared device and malgo context. Call it once;
// only the playback half exposes it.
func (s *DeviceSink) Close() error {
	s.core.device.Uninit()
	s.core.ctx.Uninit()
	return nil
}

// commandSink plays PCM by piping a WAV buffer to a probed external
// player command, for environments where a malgo duplex device is not
// available. The probe order matches common Linux/macOS players.
type commandSink struct {
	playerPath string
	mu         sync.Mutex
	cmd        *exec.Cmd
	playing    bool
}

var playerProbeList = []string{"aplay", "paplay", "afplay", "ffplay"}

// NewCommandSink probes for an available command-line player, or uses
// override if non-empty.
func NewCommandSink(override string) (*commandSink, error) {
	if override != "" {
		return &commandSink{playerPath: override}, nil
	}
	for _, candidate := range playerProbeList {
		if path, err := exec.LookPath(candidate); err == nil {
			return &commandSink{playerPath: path}, nil
		}
	}
	return &commandSink{}, nil
}

func (s *commandSink) Play(pcm []byte, sampleRate int) error {
	if s.playerPath == "" {
		time.Sleep(time.Duration(len(pcm)/2) * time.Second / time.Duration(sampleRate))
		return nil
	}
	wav := WriteWav(pcm, sampleRate)
	cmd := exec.Command(s.playerPath, "-")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cmd = cmd
	s.playing = true
	s.mu.Unlock()

	if err := cmd.Start(); err != nil {
		s.mu.Lock()
		s.playing = false
		s.mu.Unlock()
		return err
	}
	stdin.Write(wav)
	stdin.Close()
	err = cmd.Wait()

	s.mu.Lock()
	s.playing = false
	s.cmd = nil
	s.mu.Unlock()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			// SIGTERM/SIGKILL exits are expected cancellations, not
			// engine failures.
			if exitErr.ExitCode() == -1 {
				return nil
			}
		}
		return err
	}
	return nil
}

func (s *commandSink) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
	}
}

func (s *commandSink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}
