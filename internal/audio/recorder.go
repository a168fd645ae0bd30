package audio

import (
	"context"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

// CaptureRate is what the transcriber expects: mono float32 at 16 kHz.
const CaptureRate = 16000

type RecorderConfig struct {
	SilenceRMS float64       // frames below this level count as silence
	Silence    time.Duration // trailing silence that ends a phrase
	MaxPhrase  time.Duration // hard cap on one phrase
}

func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		SilenceRMS: 0.015,
		Silence:    600 * time.Millisecond,
		MaxPhrase:  10 * time.Second,
	}
}

// Recorder captures phrases from the default input device.
type Recorder struct {
	cfg RecorderConfig
}

func NewRecorder(cfg RecorderConfig) *Recorder {
	return &Recorder{cfg: cfg}
}

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// Phrase waits for speech to start, then records until it is followed by
// enough silence or reaches MaxPhrase. It returns early with ctx.Err() when
// ctx is cancelled before any speech was heard.
func (r *Recorder) Phrase(ctx context.Context) ([]float32, error) {
	const frameSize = 320 // 20ms

	buf := make([]float32, frameSize)
	out := make([]float32, 0, CaptureRate*3)

	stream, err := portaudio.OpenDefaultStream(1, 0, CaptureRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	var (
		frameDur      = time.Second * frameSize / CaptureRate
		maxFrames     = int(r.cfg.MaxPhrase / frameDur)
		silenceFrames = int(r.cfg.Silence / frameDur)
		speaking      bool
		quiet         int
	)

	for {
		if !speaking {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}

		if err := stream.Read(); err != nil {
			return nil, err
		}

		if frameRMS(buf) > r.cfg.SilenceRMS {
			speaking = true
			quiet = 0
			out = append(out, buf...)
		} else if speaking {
			quiet++
			out = append(out, buf...)
			if quiet >= silenceFrames {
				break
			}
		}

		if speaking && len(out)/frameSize >= maxFrames {
			break
		}
	}

	return out, nil
}

func frameRMS(f []float32) float64 {
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
