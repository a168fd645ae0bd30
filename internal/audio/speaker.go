package audio

import (
	"fmt"
	log "log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"

	"voxcast/internal/player"
)

// OutputRate is the rate the speaker is opened at. Tracks at other rates are
// resampled on the fly.
const OutputRate = beep.SampleRate(48000)

// Speaker is the local sound card as a player.Sink.
type Speaker struct {
	rate   beep.SampleRate
	buffer time.Duration
}

func NewSpeaker(buffer time.Duration) *Speaker {
	if buffer <= 0 {
		buffer = 100 * time.Millisecond
	}
	return &Speaker{rate: OutputRate, buffer: buffer}
}

// Open initialises the output device. It must be called before Play.
func (s *Speaker) Open() error {
	if err := speaker.Init(s.rate, s.rate.N(s.buffer)); err != nil {
		return fmt.Errorf("speaker init: %w", err)
	}
	return nil
}

func (s *Speaker) Close() {
	speaker.Close()
}

func (s *Speaker) Play(st player.Stream, volume float64, onEnd func()) (player.Handle, error) {
	t, ok := st.(*Track)
	if !ok {
		return nil, fmt.Errorf("speaker: unsupported stream %T", st)
	}

	var src beep.Streamer = t.streamer
	if t.format.SampleRate != s.rate {
		src = beep.Resample(4, t.format.SampleRate, s.rate, src)
	}

	h := &handle{track: t}
	h.vol = &effects.Volume{Streamer: src, Base: 2}
	applyLevel(h.vol, volume)
	h.ctrl = &beep.Ctrl{Streamer: h.vol}

	speaker.Play(beep.Seq(h.ctrl, beep.Callback(func() {
		// Runs on the mixer goroutine with the speaker lock held, so
		// everything that may take the lock again goes to its own goroutine.
		if h.stopped.Load() {
			return
		}
		go func() {
			h.closeTrack()
			if onEnd != nil {
				onEnd()
			}
		}()
	})))

	return h, nil
}

type handle struct {
	track *Track
	ctrl  *beep.Ctrl
	vol   *effects.Volume

	stopped atomic.Bool
	closed  atomic.Bool
}

func (h *handle) Pause() {
	speaker.Lock()
	h.ctrl.Paused = true
	speaker.Unlock()
}

func (h *handle) Resume() {
	speaker.Lock()
	h.ctrl.Paused = false
	speaker.Unlock()
}

func (h *handle) Stop() {
	if h.stopped.Swap(true) {
		return
	}
	speaker.Lock()
	h.ctrl.Streamer = nil
	speaker.Unlock()
	h.closeTrack()
}

func (h *handle) SetVolume(level float64) {
	speaker.Lock()
	applyLevel(h.vol, level)
	speaker.Unlock()
}

func (h *handle) closeTrack() {
	if h.closed.Swap(true) {
		return
	}
	if err := h.track.Close(); err != nil {
		log.Debug("Failed to close track", "err", err)
	}
}

// applyLevel maps a linear level in [0,1] onto beep's exponential volume.
func applyLevel(v *effects.Volume, level float64) {
	if level <= 0 {
		v.Silent = true
		return
	}
	v.Silent = false
	v.Volume = math.Log2(math.Min(level, 1))
}
