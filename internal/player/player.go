// Package player owns the single audio output and arbitrates it between
// long-running media, short interrupts and transport controls.
package player

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var ErrNotConnected = errors.New("player: no voice connection")

type timer interface {
	Stop() bool
}

type eventKind int

const (
	streamEnded eventKind = iota
	deadlineExpired
)

type event struct {
	kind eventKind
	gen  uint64
}

// Player is the playback state machine. The dispatch loop is its only caller.
// End-of-stream callbacks and interrupt deadlines fire on their own
// goroutines and are applied immediately under mu, so an interrupt is cut
// off on time even while the loop is busy with a slow request. Events carry
// the generation of the track they belong to; stale ones are dropped.
type Player struct {
	opener Opener
	hooks  Hooks

	mu     sync.Mutex // guards sink, sess, volume and gen
	sink   Sink
	sess   session
	volume float64
	gen    uint64

	afterFunc func(time.Duration, func()) timer
	now       func() time.Time
	snap      atomic.Pointer[Snapshot]
}

type Option func(*Player)

func WithHooks(h Hooks) Option {
	return func(p *Player) { p.hooks = h }
}

func WithVolume(level float64) Option {
	return func(p *Player) { p.volume = clamp(level) }
}

func New(opener Opener, opts ...Option) *Player {
	p := &Player{
		opener: opener,
		volume: 1,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.publish()
	return p
}

// Connect attaches the session to a voice output. Any previous session is
// torn down first.
func (p *Player) Connect(sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.publish()

	if p.sink != nil {
		p.teardown()
	}
	p.sink = sink
	p.sess = session{state: Idle}
	log.Info("Voice connected")
}

// Disconnect stops everything and destroys the session.
func (p *Player) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.publish()

	if p.sink == nil {
		return
	}
	p.teardown()
	p.sink = nil
	p.sess = session{state: Disconnected}
	log.Info("Voice disconnected")
}

// StartMedia replaces the primary track with ref. The previous primary (and
// any interrupt) is stopped, not paused. When ref cannot be opened the
// session is left untouched.
func (p *Player) StartMedia(ctx context.Context, ref string) error {
	if !p.Connected() {
		log.Warn("Start media without voice connection", "ref", ref)
		return ErrNotConnected
	}

	s, err := p.opener.Open(ctx, ref)
	if err != nil {
		return fmt.Errorf("open %s: %w", ref, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.publish()

	if p.sink == nil {
		_ = s.Close()
		return ErrNotConnected
	}

	p.dropInterrupt()
	p.stopPrimary()

	gen := p.nextGen()
	h, err := p.sink.Play(s, p.volume, p.onEnd(gen))
	if err != nil {
		_ = s.Close()
		p.sess.state = Idle
		return fmt.Errorf("play %s: %w", ref, err)
	}

	p.sess.primary = &track{ref: ref, handle: h, gen: gen}
	p.sess.state = Playing
	log.Info("Playing media", "ref", ref)
	return nil
}

// Stop halts all output and clears the session, cancelling any pending
// interrupt deadline. It is a no-op when nothing is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.publish()

	if p.sink == nil {
		log.Warn("Stop without voice connection")
		return
	}
	if p.sess.primary == nil && p.sess.interrupt == nil {
		return
	}

	p.dropInterrupt()
	p.stopPrimary()
	p.sess.state = Idle
	log.Info("Playback stopped")
}

// Pause holds whichever stream is producing output.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.publish()

	if p.sink == nil {
		log.Warn("Pause without voice connection")
		return
	}
	if p.sess.state != Playing {
		return
	}
	if t := p.active(); t != nil {
		t.handle.Pause()
	}
	p.sess.state = Paused
}

// Resume continues the stream held by Pause.
func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.publish()

	if p.sink == nil {
		log.Warn("Resume without voice connection")
		return
	}
	if p.sess.state != Paused {
		return
	}
	if t := p.active(); t != nil {
		t.handle.Resume()
	}
	p.sess.state = Playing
}

// Interrupt plays ref over the primary track, which is paused and restored
// afterwards. A positive maxDuration bounds how long the interrupt may play.
// A new interrupt replaces an active one after running its restore.
func (p *Player) Interrupt(ctx context.Context, ref string, maxDuration time.Duration) error {
	if !p.Connected() {
		log.Warn("Interrupt without voice connection", "ref", ref)
		return ErrNotConnected
	}

	s, err := p.opener.Open(ctx, ref)
	if err != nil {
		return fmt.Errorf("open %s: %w", ref, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.publish()

	if p.sink == nil {
		_ = s.Close()
		return ErrNotConnected
	}

	if p.sess.interrupt != nil {
		p.restore()
	}

	resume := p.sess.primary != nil && p.sess.state == Playing
	if resume {
		p.sess.primary.handle.Pause()
	}

	gen := p.nextGen()
	h, err := p.sink.Play(s, p.volume, p.onEnd(gen))
	if err != nil {
		_ = s.Close()
		if resume {
			p.sess.primary.handle.Resume()
		}
		return fmt.Errorf("play %s: %w", ref, err)
	}

	p.sess.interrupt = &track{ref: ref, handle: h, gen: gen}
	p.sess.resumePrimary = resume
	p.sess.state = Playing
	if p.hooks != nil {
		p.hooks.InterruptStarted()
	}

	if maxDuration > 0 {
		p.sess.deadline = p.now().Add(maxDuration)
		p.sess.timer = p.afterFunc(maxDuration, func() {
			p.apply(event{kind: deadlineExpired, gen: gen})
		})
	}

	log.Info("Interrupt started", "ref", ref, "max", maxDuration)
	return nil
}

// SetVolume clamps level to [0,1], applies it to the stream producing output
// and keeps it for streams started later.
func (p *Player) SetVolume(level float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.publish()

	p.volume = clamp(level)
	if t := p.active(); t != nil {
		t.handle.SetVolume(p.volume)
	}
	log.Debug("Volume set", "level", p.volume)
}

func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Connected reports whether a voice output is attached.
func (p *Player) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink != nil
}

// Snapshot returns the last published session state. Safe from any
// goroutine.
func (p *Player) Snapshot() Snapshot {
	return *p.snap.Load()
}

// apply handles an end-of-stream or deadline event as soon as it fires.
// Events for tracks that were already replaced are dropped, so each
// interrupt is restored exactly once.
func (p *Player) apply(ev event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.publish()

	p.handleEvent(ev)
}

func (p *Player) handleEvent(ev event) {
	if it := p.sess.interrupt; it != nil && it.gen == ev.gen {
		switch ev.kind {
		case streamEnded:
			log.Debug("Interrupt finished", "ref", it.ref)
		case deadlineExpired:
			log.Info("Interrupt reached its deadline", "ref", it.ref)
		}
		p.restore()
		return
	}

	if pr := p.sess.primary; pr != nil && pr.gen == ev.gen && ev.kind == streamEnded {
		log.Info("Media finished", "ref", pr.ref)
		p.sess.primary = nil
		if p.sess.interrupt == nil {
			p.sess.state = Idle
		}
		return
	}

	log.Debug("Dropped stale playback event", "gen", ev.gen)
}

// restore ends the interrupt and puts the primary track back the way it was
// before the interrupt began.
func (p *Player) restore() {
	userPaused := p.sess.state == Paused
	p.dropInterrupt()

	pr := p.sess.primary
	switch {
	case pr == nil:
		p.sess.state = Idle
	case p.sess.resumePrimary && !userPaused:
		pr.handle.SetVolume(p.volume)
		pr.handle.Resume()
		p.sess.state = Playing
	default:
		p.sess.state = Paused
	}
	p.sess.resumePrimary = false
}

// dropInterrupt stops the interrupt stream and its deadline without touching
// the primary track.
func (p *Player) dropInterrupt() {
	if p.sess.timer != nil {
		p.sess.timer.Stop()
		p.sess.timer = nil
	}
	p.sess.deadline = time.Time{}

	if it := p.sess.interrupt; it != nil {
		it.handle.Stop()
		p.sess.interrupt = nil
		if p.hooks != nil {
			p.hooks.InterruptEnded()
		}
	}
}

func (p *Player) stopPrimary() {
	if pr := p.sess.primary; pr != nil {
		pr.handle.Stop()
		p.sess.primary = nil
	}
	p.sess.resumePrimary = false
}

func (p *Player) teardown() {
	p.dropInterrupt()
	p.stopPrimary()
}

// active returns the track currently feeding the output.
func (p *Player) active() *track {
	if p.sess.interrupt != nil {
		return p.sess.interrupt
	}
	return p.sess.primary
}

func (p *Player) onEnd(gen uint64) func() {
	return func() {
		p.apply(event{kind: streamEnded, gen: gen})
	}
}

func (p *Player) nextGen() uint64 {
	p.gen++
	return p.gen
}

func (p *Player) publish() {
	snap := p.sess.snapshot(p.volume)
	p.snap.Store(&snap)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
