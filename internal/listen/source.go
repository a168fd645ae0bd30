package listen

import (
	"context"
	"io"
	log "log/slog"
	"regexp"
	"strings"
	"sync"

	"voxcast/internal/action"
	"voxcast/internal/bus"
)

// Source yields utterances one at a time, in arrival order. Next returns
// io.EOF once the source is exhausted.
type Source interface {
	Next(ctx context.Context) (string, error)
}

// Chan is a Source fed by Push. It backs the control socket and the hub.
type Chan struct {
	ch   chan string
	done chan struct{}
	once sync.Once
}

func NewChan(buffer int) *Chan {
	return &Chan{
		ch:   make(chan string, max(buffer, 1)),
		done: make(chan struct{}),
	}
}

// Push offers text without blocking. It reports false when the buffer is full
// or the source is closed.
func (c *Chan) Push(text string) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.ch <- text:
		return true
	default:
		log.Warn("Utterance dropped, listener is behind", "text", text)
		return false
	}
}

func (c *Chan) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Chan) Next(ctx context.Context) (string, error) {
	select {
	case text := <-c.ch:
		return text, nil
	default:
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case text := <-c.ch:
		return text, nil
	case <-c.done:
		select {
		case text := <-c.ch:
			return text, nil
		default:
			return "", io.EOF
		}
	}
}

// BusFeed returns a hub handler. Utterance messages are pushed into c, and
// action messages, whose content is an encoded request, skip classification
// and go straight to out. Either may be nil to ignore that kind.
func BusFeed(c *Chan, out Enqueuer) func(bus.Message) {
	return func(m bus.Message) {
		switch m.Kind {
		case bus.KindUtterance:
			if text := strings.TrimSpace(m.Content); text != "" && c != nil {
				c.Push(text)
			}
		case bus.KindAction:
			if out == nil {
				return
			}
			r, err := action.Decode([]byte(m.Content))
			if err != nil {
				log.Warn("Bad action from hub", "from", m.From, "err", err)
				return
			}
			if !r.Actionable() {
				log.Info("Dropped action from hub", "from", m.From, "request", r.String())
				return
			}
			out.Enqueue(r)
		}
	}
}

// Recorder captures one spoken phrase as 16 kHz mono samples.
type Recorder interface {
	Phrase(ctx context.Context) ([]float32, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, pcm []float32) (string, error)
}

// Mic is a Source reading phrases from a microphone and transcribing them.
type Mic struct {
	rec        Recorder
	stt        Transcriber
	minSamples int
}

// NewMic builds a microphone source. Phrases shorter than minSamples are
// treated as noise.
func NewMic(rec Recorder, stt Transcriber, minSamples int) *Mic {
	return &Mic{rec: rec, stt: stt, minSamples: minSamples}
}

func (m *Mic) Next(ctx context.Context) (string, error) {
	for {
		pcm, err := m.rec.Phrase(ctx)
		if err != nil {
			return "", err
		}
		if len(pcm) < m.minSamples {
			continue
		}

		text, err := m.stt.Transcribe(ctx, pcm)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			log.Warn("Failed to transcribe", "samples", len(pcm), "err", err)
			continue
		}

		if text = cleanTranscript(text); text != "" {
			log.Debug("Heard", "text", text)
			return text, nil
		}
	}
}

// whisper marks non-speech as [BLANK_AUDIO], (music) and similar.
var annotationRe = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\*[^*]*\*`)

func cleanTranscript(s string) string {
	s = annotationRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}
