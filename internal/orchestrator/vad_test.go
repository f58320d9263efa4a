package orchestrator

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func pcmFrame(amplitude float64, n int) []byte {
	frame := make([]byte, n*2)
	sample := int16(amplitude * 32767)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(sample))
	}
	return frame
}

func TestVadSpeechOnFirstLoudFrame(t *testing.T) {
	v := NewVad(0.1, 200*time.Millisecond)
	evt := v.Process(pcmFrame(0.5, 160))
	if evt == nil || evt.Type != VadSpeech {
		t.Fatalf("expected Speech event, got %v", evt)
	}
	if !v.IsSpeaking() {
		t.Fatal("expected IsSpeaking true after loud frame")
	}
}

func TestVadNoRepeatedSpeechEvents(t *testing.T) {
	v := NewVad(0.1, 200*time.Millisecond)
	v.Process(pcmFrame(0.5, 160))
	if evt := v.Process(pcmFrame(0.5, 160)); evt != nil {
		t.Fatalf("expected no event on sustained speech, got %v", evt)
	}
}

func TestVadSilenceRequiresHangover(t *testing.T) {
	v := NewVad(0.1, 50*time.Millisecond)
	v.Process(pcmFrame(0.5, 160))
	if evt := v.Process(pcmFrame(0.0, 160)); evt != nil {
		t.Fatalf("expected no event before hangover elapses, got %v", evt)
	}
	time.Sleep(60 * time.Millisecond)
	evt := v.Process(pcmFrame(0.0, 160))
	if evt == nil || evt.Type != VadSilence {
		t.Fatalf("expected Silence event once hangover elapses, got %v", evt)
	}
	if v.IsSpeaking() {
		t.Fatal("expected IsSpeaking false after Silence event")
	}
}

func TestVadSilenceHangoverResetsOnReNoise(t *testing.T) {
	v := NewVad(0.1, 50*time.Millisecond)
	v.Process(pcmFrame(0.5, 160))
	time.Sleep(30 * time.Millisecond)
	v.Process(pcmFrame(0.0, 160))
	// Noise returns before hangover elapses: silence timer must reset.
	v.Process(pcmFrame(0.5, 160))
	time.Sleep(30 * time.Millisecond)
	if evt := v.Process(pcmFrame(0.0, 160)); evt != nil {
		t.Fatalf("expected no Silence event, hangover should have reset: got %v", evt)
	}
}

func TestVadReset(t *testing.T) {
	v := NewVad(0.1, 200*time.Millisecond)
	v.Process(pcmFrame(0.5, 160))
	v.Reset()
	if v.IsSpeaking() {
		t.Fatal("expected IsSpeaking false after Reset")
	}
	evt := v.Process(pcmFrame(0.5, 160))
	if evt == nil || evt.Type != VadSpeech {
		t.Fatalf("expected a fresh Speech event after Reset, got %v", evt)
	}
}

func TestVadThresholdAccessors(t *testing.T) {
	v := NewVad(0.05, time.Second)
	if v.Threshold() != 0.05 {
		t.Fatalf("expected threshold 0.05, got %v", v.Threshold())
	}
	v.SetThreshold(0.2)
	if v.Threshold() != 0.2 {
		t.Fatalf("expected threshold 0.2 after SetThreshold, got %v", v.Threshold())
	}
}

func TestVadLastRMS(t *testing.T) {
	v := NewVad(0.1, time.Second)
	v.Process(pcmFrame(0.5, 160))
	if math.Abs(v.LastRMS()-0.5) > 0.01 {
		t.Fatalf("expected LastRMS near 0.5, got %v", v.LastRMS())
	}
}
