package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/faiface/beep"
)

// Track is an opened stream ready to be handed to the speaker. It implements
// player.Stream.
type Track struct {
	streamer beep.Streamer
	format   beep.Format
	closer   io.Closer
}

func (t *Track) Format() beep.Format {
	return t.format
}

func (t *Track) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// pcmStreamer plays decoded, interleaved float samples held in memory.
type pcmStreamer struct {
	samples  []float32
	channels int
	pos      int // frame index
}

func newPCMStreamer(samples []float32, channels int) *pcmStreamer {
	if channels <= 0 {
		channels = 1
	}
	return &pcmStreamer{samples: samples, channels: channels}
}

func (p *pcmStreamer) Stream(out [][2]float64) (int, bool) {
	frames := p.Len()
	if p.pos >= frames {
		return 0, false
	}

	n := 0
	for n < len(out) && p.pos < frames {
		base := p.pos * p.channels
		l := float64(p.samples[base])
		r := l
		if p.channels > 1 {
			r = float64(p.samples[base+1])
		}
		out[n][0], out[n][1] = l, r
		n++
		p.pos++
	}
	return n, true
}

func (p *pcmStreamer) Err() error { return nil }

func (p *pcmStreamer) Len() int { return len(p.samples) / p.channels }

func (p *pcmStreamer) Position() int { return p.pos }

func (p *pcmStreamer) Seek(pos int) error {
	if pos < 0 || pos > p.Len() {
		return errors.New("pcm: seek out of range")
	}
	p.pos = pos
	return nil
}

// rawStreamer plays signed 16-bit little-endian interleaved stereo read
// from r as it arrives, so long tracks are never held in memory. A reader
// goroutine fills a bounded buffer; Stream runs on the mixer with the speaker
// lock held, so it never waits for r and pads with silence instead.
type rawStreamer struct {
	mu     sync.Mutex
	cond   *sync.Cond // signalled when buf drains or the streamer closes
	buf    [][2]float64
	max    int
	eof    bool
	closed bool
	err    error
}

func newRawStreamer(r io.Reader, maxFrames int) *rawStreamer {
	if maxFrames <= 0 {
		maxFrames = 1 << 16
	}
	s := &rawStreamer{max: maxFrames}
	s.cond = sync.NewCond(&s.mu)
	go s.fill(bufio.NewReaderSize(r, 64*1024))
	return s
}

func (s *rawStreamer) fill(r io.Reader) {
	chunk := make([]byte, 4*1024)
	for {
		n, err := io.ReadFull(r, chunk)
		frames := decodeS16Stereo(chunk[:n-n%4])

		s.mu.Lock()
		for len(s.buf) >= s.max && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.buf = append(s.buf, frames...)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.err = err
			}
			s.eof = true
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

func (s *rawStreamer) Stream(out [][2]float64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := copy(out, s.buf)
	s.buf = s.buf[n:]
	if n > 0 {
		s.cond.Signal()
	}

	switch {
	case n == len(out):
		return n, true
	case s.eof || s.closed:
		return n, n > 0
	}
	// The source is behind: keep the mixer going with silence.
	for i := n; i < len(out); i++ {
		out[i] = [2]float64{}
	}
	return len(out), true
}

func (s *rawStreamer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the reader goroutine if it is waiting for room. The source
// itself is closed by its owner.
func (s *rawStreamer) Close() error {
	s.mu.Lock()
	s.closed = true
	s.buf = nil
	s.mu.Unlock()
	s.cond.Broadcast()
	return nil
}

func decodeS16Stereo(b []byte) [][2]float64 {
	frames := make([][2]float64, len(b)/4)
	for i := range frames {
		l := int16(binary.LittleEndian.Uint16(b[i*4:]))
		r := int16(binary.LittleEndian.Uint16(b[i*4+2:]))
		frames[i] = [2]float64{float64(l) / 32768, float64(r) / 32768}
	}
	return frames
}

// closers closes every member, in order.
type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, cl := range c {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
