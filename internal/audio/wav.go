// Package audio implements the PCM/WAV data plane: capture and
// playback devices, the canonical WAV container, and cue playback.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/go-audio/wav"
)

// ErrNotPCM is returned when a WAV buffer is not 16-bit PCM.
var ErrNotPCM = errors.New("audio: not a 16-bit PCM WAV buffer")

// WriteWav wraps raw PCM in a canonical 44-byte RIFF/WAVE/PCM header:
// subchunk1 size 16, audio format 1, given sample rate, mono, 16 bits
// per sample.
func WriteWav(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// ReadWav parses a canonical WAV buffer back into 16-bit mono PCM and
// its sample rate, using go-audio/wav for RIFF chunk walking.
func ReadWav(data []byte) (pcm []byte, sampleRate int, err error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, ErrNotPCM
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, err
	}
	if dec.BitDepth != 16 {
		return nil, 0, ErrNotPCM
	}

	out := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		v := int16(s)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out, int(dec.SampleRate), nil
}
