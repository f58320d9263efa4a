package audio

import (
	"math/rand"
	"os"
	"path/filepath"
)

// cue is one loaded pre-recorded WAV: PCM plus the sample rate parsed
// from its header.
type cue struct {
	pcm        []byte
	sampleRate int
}

// CuePlayer plays a uniformly random pre-recorded cue (wake
// acknowledgment, barge-in acknowledgment) through a Sink. If no files
// were loaded, PlayRandom is a successful no-op.
type CuePlayer struct {
	sink Sink
	cues []cue
}

// NewCuePlayer loads every .wav file in dir (non-recursive), header-
// parsing each to capture its sample rate. A missing or empty
// directory yields a player with zero cues, which is not an error.
func NewCuePlayer(sink Sink, dir string) (*CuePlayer, error) {
	p := &CuePlayer{sink: sink}
	if dir == "" {
		return p, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".wav" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		pcm, sr, err := ReadWav(data)
		if err != nil {
			continue
		}
		p.cues = append(p.cues, cue{pcm: pcm, sampleRate: sr})
	}
	return p, nil
}

// PlayRandom selects a uniformly random loaded cue and plays it to
// completion. A no-op if no cues were loaded.
func (p *CuePlayer) PlayRandom() error {
	if len(p.cues) == 0 {
		return nil
	}
	c := p.cues[rand.Intn(len(p.cues))]
	return p.sink.Play(c.pcm, c.sampleRate)
}
