package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/voxcore/internal/segmenter"
)

// speakingState is SpeakingBookkeeping (spec §3), held only while the
// orchestrator is in Speaking or Prompting. The producer and consumer
// goroutines share it under a single mutex, append-only, per spec §9's
// guidance — the consumer reads only indices at or below the
// producer's published index.
//
// Grounded on hubenschmidt's streamLLMWithTTS/consumeSentences
// producer-consumer pair (internal/pipeline/pipeline.go), adapted from
// a pure channel hand-off to this shared-vector + future-queue model.
type speakingState struct {
	mu                   sync.Mutex
	sentences            []string
	currentSentenceIndex int
	fullResponse         string
	futures              []chan ttsFuture
	producerDone         bool
}

type ttsFuture struct {
	result TtsResult
	err    error
}

func newSpeakingState() *speakingState {
	return &speakingState{currentSentenceIndex: -1}
}

// snapshot returns a point-in-time view used for barge-in recorder
// events: the index of the last sentence submitted to the sink and the
// full response text received so far.
func (sb *speakingState) snapshot() (sentenceIndex, total int, partialText string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.currentSentenceIndex, len(sb.sentences), sb.fullResponse
}

// runProducer drains the LLM token stream, extracting complete
// sentences and enqueuing their synthesis as soon as they appear.
func (o *Orchestrator) runProducer(ctx context.Context, tokens <-chan string, sb *speakingState) {
	var buffer strings.Builder

	for token := range tokens {
		if o.stateSnapshot() != StateSpeaking {
			o.llm.CancelStream()
			return
		}

		buffer.WriteString(token)
		sb.mu.Lock()
		sb.fullResponse += token
		sb.mu.Unlock()

		for {
			sentence, rest, ok := segmenter.ExtractCompleteSentence(buffer.String())
			if !ok {
				break
			}
			buffer.Reset()
			buffer.WriteString(rest)
			o.enqueueSentence(ctx, sb, sentence)
		}
	}

	if o.stateSnapshot() == StateSpeaking {
		residue := segmenter.Clean(buffer.String())
		if residue != "" {
			o.enqueueSentence(ctx, sb, residue)
		}
	}

	sb.mu.Lock()
	sb.producerDone = true
	sb.mu.Unlock()
}

func (o *Orchestrator) enqueueSentence(ctx context.Context, sb *speakingState, sentence string) {
	future := make(chan ttsFuture, 1)

	sb.mu.Lock()
	sb.sentences = append(sb.sentences, sentence)
	sb.futures = append(sb.futures, future)
	sb.mu.Unlock()

	go func() {
		result, err := o.tts.Synthesize(ctx, sentence)
		future <- ttsFuture{result: result, err: err}
	}()
}

// sentencePollInterval is the cooperative-sleep granularity the
// consumer uses while waiting for the producer to publish more work.
const sentencePollInterval = 10 * time.Millisecond

// runConsumer plays synthesized sentences in order as they become
// ready, bounding inter-sentence gaps and exiting promptly once the
// state leaves Speaking (barge-in).
func (o *Orchestrator) runConsumer(sb *speakingState, done chan<- struct{}) {
	defer close(done)
	playbackIndex := 0

	for {
		if o.stateSnapshot() != StateSpeaking {
			return
		}

		sb.mu.Lock()
		total := len(sb.futures)
		producerDone := sb.producerDone
		sb.mu.Unlock()

		if playbackIndex == total {
			if producerDone {
				return
			}
			time.Sleep(sentencePollInterval)
			continue
		}

		sb.mu.Lock()
		future := sb.futures[playbackIndex]
		sb.mu.Unlock()

		result := <-future
		if o.stateSnapshot() != StateSpeaking {
			return
		}
		if result.err != nil {
			o.logger.Error("tts synthesis failed", "error", result.err)
			playbackIndex++
			continue
		}

		sb.mu.Lock()
		sb.currentSentenceIndex = playbackIndex
		sb.mu.Unlock()

		o.emit(Event{Type: EventResponseSentence, Data: sb.sentences[playbackIndex]})
		o.audioSink.Play(result.result.PCM16(), result.result.SampleRate)

		playbackIndex++

		sb.mu.Lock()
		moreToFollow := playbackIndex < len(sb.futures) || !sb.producerDone
		sb.mu.Unlock()

		if moreToFollow && o.config.SentencePause > 0 {
			time.Sleep(o.config.SentencePause)
		}
	}
}
