package player

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStream struct {
	ref    string
	closed bool
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeOpener struct {
	fail   map[string]bool
	opened []*fakeStream
}

func (o *fakeOpener) Open(_ context.Context, ref string) (Stream, error) {
	if o.fail[ref] {
		return nil, errors.New("unreachable")
	}
	s := &fakeStream{ref: ref}
	o.opened = append(o.opened, s)
	return s, nil
}

type fakeHandle struct {
	ref     string
	playing bool
	paused  bool
	stopped bool
	volume  float64
	onEnd   func()
}

func (h *fakeHandle) Pause()                  { h.paused = true; h.playing = false }
func (h *fakeHandle) Resume()                 { h.paused = false; h.playing = true }
func (h *fakeHandle) Stop()                   { h.stopped = true; h.playing = false }
func (h *fakeHandle) SetVolume(level float64) { h.volume = level }

// finish simulates the stream running out on its own.
func (h *fakeHandle) finish() {
	h.playing = false
	h.onEnd()
}

type fakeSink struct {
	handles map[string]*fakeHandle
	order   []string
	refuse  map[string]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{handles: make(map[string]*fakeHandle), refuse: make(map[string]bool)}
}

func (s *fakeSink) Play(st Stream, volume float64, onEnd func()) (Handle, error) {
	ref := st.(*fakeStream).ref
	if s.refuse[ref] {
		return nil, errors.New("output busy")
	}
	h := &fakeHandle{ref: ref, playing: true, volume: volume, onEnd: onEnd}
	s.handles[ref] = h
	s.order = append(s.order, ref)
	return h, nil
}

// producing returns the refs of every handle currently feeding output.
func (s *fakeSink) producing() []string {
	var out []string
	for _, ref := range s.order {
		if h := s.handles[ref]; h.playing && !h.stopped {
			out = append(out, ref)
		}
	}
	return out
}

type manualTimer struct {
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// fire runs the timer callback even if it was stopped, mimicking a timer that
// fired just before Stop was called.
func (t *manualTimer) fire() { t.fn() }

type countingHooks struct {
	started, ended int
}

func (h *countingHooks) InterruptStarted() { h.started++ }
func (h *countingHooks) InterruptEnded()   { h.ended++ }

func newTestPlayer(t *testing.T) (*Player, *fakeSink, *[]*manualTimer) {
	t.Helper()

	p := New(&fakeOpener{fail: map[string]bool{"bad": true}})
	timers := &[]*manualTimer{}
	p.afterFunc = func(_ time.Duration, f func()) timer {
		mt := &manualTimer{fn: f}
		*timers = append(*timers, mt)
		return mt
	}
	sink := newFakeSink()
	p.Connect(sink)
	return p, sink, timers
}

func assertState(t *testing.T, p *Player, want State) {
	t.Helper()
	if got := p.Snapshot().State; got != want {
		t.Fatalf("expected state %s, got %s", want, got)
	}
}

func assertSingleOutput(t *testing.T, s *fakeSink) {
	t.Helper()
	if out := s.producing(); len(out) > 1 {
		t.Fatalf("more than one stream producing output: %v", out)
	}
}

func TestPlayer_DisconnectedIsNoop(t *testing.T) {
	p := New(&fakeOpener{})
	assertState(t, p, Disconnected)

	if err := p.StartMedia(context.Background(), "song"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := p.Interrupt(context.Background(), "fx", time.Second); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	p.Stop()
	p.Pause()
	p.Resume()
	assertState(t, p, Disconnected)
}

func TestPlayer_StartMedia(t *testing.T) {
	p, sink, _ := newTestPlayer(t)

	if err := p.StartMedia(context.Background(), "lofi"); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap := p.Snapshot()
	if snap.State != Playing || snap.Primary != "lofi" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if !sink.handles["lofi"].playing {
		t.Fatalf("expected lofi to be playing")
	}
}

func TestPlayer_StartMediaReplacesPrevious(t *testing.T) {
	p, sink, _ := newTestPlayer(t)
	ctx := context.Background()

	_ = p.StartMedia(ctx, "first")
	p.Pause()
	_ = p.StartMedia(ctx, "second")

	if !sink.handles["first"].stopped {
		t.Fatalf("expected first track to be stopped, not paused")
	}
	if got := p.Snapshot().Primary; got != "second" {
		t.Fatalf("expected second as primary, got %q", got)
	}
	assertState(t, p, Playing)
	assertSingleOutput(t, sink)
}

func TestPlayer_StartMediaFailureLeavesState(t *testing.T) {
	p, sink, _ := newTestPlayer(t)
	ctx := context.Background()

	_ = p.StartMedia(ctx, "keep")
	if err := p.StartMedia(ctx, "bad"); err == nil {
		t.Fatalf("expected error for unreachable source")
	}

	snap := p.Snapshot()
	if snap.State != Playing || snap.Primary != "keep" {
		t.Fatalf("state changed after failed start: %+v", snap)
	}
	if sink.handles["keep"].stopped {
		t.Fatalf("previous track must survive a failed start")
	}
}

func TestPlayer_TransportIdempotence(t *testing.T) {
	p, _, _ := newTestPlayer(t)

	p.Stop()
	assertState(t, p, Idle)
	p.Resume()
	assertState(t, p, Idle)
	p.Pause()
	assertState(t, p, Idle)

	_ = p.StartMedia(context.Background(), "song")
	p.Resume()
	assertState(t, p, Playing)
	p.Pause()
	p.Pause()
	assertState(t, p, Paused)
	p.Resume()
	assertState(t, p, Playing)
}

func TestPlayer_StopWhilePaused(t *testing.T) {
	p, sink, _ := newTestPlayer(t)

	_ = p.StartMedia(context.Background(), "song")
	p.Pause()
	p.Stop()

	assertState(t, p, Idle)
	if p.Snapshot().Primary != "" {
		t.Fatalf("expected primary to be discarded")
	}
	if !sink.handles["song"].stopped {
		t.Fatalf("expected handle to be stopped")
	}
}

func TestPlayer_InterruptRestoresOnCompletion(t *testing.T) {
	p, sink, timers := newTestPlayer(t)
	ctx := context.Background()

	_ = p.StartMedia(ctx, "music")
	if err := p.Interrupt(ctx, "airhorn", 5*time.Second); err != nil {
		t.Fatalf("interrupt: %v", err)
	}

	snap := p.Snapshot()
	if snap.State != Playing || snap.Interrupt != "airhorn" || snap.RestoreDeadline == nil {
		t.Fatalf("unexpected snapshot during interrupt: %+v", snap)
	}
	if !sink.handles["music"].paused || sink.handles["music"].stopped {
		t.Fatalf("primary must be paused, not stopped")
	}
	assertSingleOutput(t, sink)

	sink.handles["airhorn"].finish()

	snap = p.Snapshot()
	if snap.State != Playing || snap.Interrupt != "" || snap.RestoreDeadline != nil {
		t.Fatalf("unexpected snapshot after interrupt: %+v", snap)
	}
	if !sink.handles["music"].playing {
		t.Fatalf("primary should have resumed")
	}
	if !(*timers)[0].stopped {
		t.Fatalf("deadline timer must be cancelled on natural completion")
	}
}

func TestPlayer_InterruptDeadline(t *testing.T) {
	p, sink, timers := newTestPlayer(t)
	ctx := context.Background()

	_ = p.StartMedia(ctx, "music")
	_ = p.Interrupt(ctx, "long-effect", 5*time.Second)

	(*timers)[0].fire()

	if !sink.handles["long-effect"].stopped {
		t.Fatalf("interrupt should be force-stopped at its deadline")
	}
	if sink.handles["music"].stopped {
		t.Fatalf("deadline must not stop the primary")
	}
	assertState(t, p, Playing)
	if !sink.handles["music"].playing {
		t.Fatalf("primary should resume after forced stop")
	}
}

func TestPlayer_InterruptWithoutPrimaryEndsIdle(t *testing.T) {
	p, sink, _ := newTestPlayer(t)

	_ = p.Interrupt(context.Background(), "hello", 0)
	assertState(t, p, Playing)

	sink.handles["hello"].finish()
	assertState(t, p, Idle)
}

func TestPlayer_InterruptOverPausedPrimaryStaysPaused(t *testing.T) {
	p, sink, _ := newTestPlayer(t)
	ctx := context.Background()

	_ = p.StartMedia(ctx, "music")
	p.Pause()
	_ = p.Interrupt(ctx, "hello", 0)
	assertState(t, p, Playing)

	sink.handles["hello"].finish()

	assertState(t, p, Paused)
	if sink.handles["music"].playing {
		t.Fatalf("primary paused by the user must stay paused")
	}
}

func TestPlayer_RestoreFiresExactlyOnce(t *testing.T) {
	tests := []struct {
		name  string
		order []string
	}{
		{"end then deadline", []string{"end", "deadline"}},
		{"deadline then end", []string{"deadline", "end"}},
		{"back to back", []string{"both"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, sink, timers := newTestPlayer(t)
			hooks := &countingHooks{}
			p.hooks = hooks
			ctx := context.Background()

			_ = p.StartMedia(ctx, "music")
			_ = p.Interrupt(ctx, "fx", time.Second)

			for _, step := range tt.order {
				switch step {
				case "end":
					sink.handles["fx"].finish()
				case "deadline":
					(*timers)[0].fire()
				case "both":
					sink.handles["fx"].finish()
					(*timers)[0].fire()
				}
						}

			if hooks.ended != 1 {
				t.Fatalf("expected exactly one restore, got %d", hooks.ended)
			}
			assertState(t, p, Playing)
		})
	}
}

func TestPlayer_NoRestoreAfterStop(t *testing.T) {
	p, sink, timers := newTestPlayer(t)
	ctx := context.Background()

	_ = p.StartMedia(ctx, "music")
	_ = p.Interrupt(ctx, "fx", time.Second)
	p.Stop()

	assertState(t, p, Idle)
	if !(*timers)[0].stopped {
		t.Fatalf("stop must cancel the interrupt deadline")
	}

	(*timers)[0].fire()
	sink.handles["fx"].finish()

	assertState(t, p, Idle)
	if sink.handles["music"].playing {
		t.Fatalf("stale restore resumed a discarded primary")
	}
}

func TestPlayer_NoRestoreAfterStartMedia(t *testing.T) {
	p, sink, timers := newTestPlayer(t)
	ctx := context.Background()

	_ = p.StartMedia(ctx, "music")
	_ = p.Interrupt(ctx, "fx", time.Second)
	_ = p.StartMedia(ctx, "next")

	(*timers)[0].fire()

	snap := p.Snapshot()
	if snap.State != Playing || snap.Primary != "next" || snap.Interrupt != "" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if !sink.handles["music"].stopped || !sink.handles["fx"].stopped {
		t.Fatalf("old primary and interrupt should both be stopped")
	}
	assertSingleOutput(t, sink)
}

func TestPlayer_InterruptsDoNotStack(t *testing.T) {
	p, sink, timers := newTestPlayer(t)
	hooks := &countingHooks{}
	p.hooks = hooks
	ctx := context.Background()

	_ = p.StartMedia(ctx, "music")
	_ = p.Interrupt(ctx, "fx1", time.Second)
	_ = p.Interrupt(ctx, "fx2", time.Second)

	if !sink.handles["fx1"].stopped {
		t.Fatalf("first interrupt should be replaced")
	}
	if !(*timers)[0].stopped {
		t.Fatalf("first interrupt deadline should be cancelled")
	}
	if hooks.started != 2 || hooks.ended != 1 {
		t.Fatalf("unexpected hook counts: %+v", hooks)
	}
	if !sink.handles["music"].paused {
		t.Fatalf("primary should be paused under the second interrupt")
	}
	assertSingleOutput(t, sink)

	// The replaced interrupt's deadline must not end the new one.
	(*timers)[0].fire()
	if p.Snapshot().Interrupt != "fx2" {
		t.Fatalf("stale deadline ended the new interrupt")
	}

	sink.handles["fx2"].finish()
	assertState(t, p, Playing)
	if !sink.handles["music"].playing {
		t.Fatalf("primary should resume after the last interrupt")
	}
}

func TestPlayer_InterruptFailureKeepsPrimary(t *testing.T) {
	p, sink, _ := newTestPlayer(t)
	ctx := context.Background()

	_ = p.StartMedia(ctx, "music")
	if err := p.Interrupt(ctx, "bad", time.Second); err == nil {
		t.Fatalf("expected error")
	}
	if !sink.handles["music"].playing {
		t.Fatalf("primary should keep playing when the interrupt cannot open")
	}
}

func TestPlayer_PrimaryEndsNaturally(t *testing.T) {
	p, sink, _ := newTestPlayer(t)

	_ = p.StartMedia(context.Background(), "song")
	sink.handles["song"].finish()

	snap := p.Snapshot()
	if snap.State != Idle || snap.Primary != "" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestPlayer_SetVolume(t *testing.T) {
	p, sink, _ := newTestPlayer(t)
	ctx := context.Background()

	p.SetVolume(1.7)
	if p.Volume() != 1 {
		t.Fatalf("expected clamp to 1, got %v", p.Volume())
	}

	_ = p.StartMedia(ctx, "music")
	_ = p.Interrupt(ctx, "hello", 0)
	p.SetVolume(0.25)

	if sink.handles["hello"].volume != 0.25 {
		t.Fatalf("volume should apply to the interrupt producing output")
	}

	sink.handles["hello"].finish()
	if sink.handles["music"].volume != 0.25 {
		t.Fatalf("restored primary should pick up the new volume")
	}

	_ = p.StartMedia(ctx, "next")
	if sink.handles["next"].volume != 0.25 {
		t.Fatalf("new sources should start at the persisted volume")
	}

	p.SetVolume(-3)
	if p.Snapshot().Volume != 0 {
		t.Fatalf("expected clamp to 0")
	}
}

func TestPlayer_Disconnect(t *testing.T) {
	p, sink, timers := newTestPlayer(t)
	ctx := context.Background()

	_ = p.StartMedia(ctx, "music")
	_ = p.Interrupt(ctx, "fx", time.Second)
	p.Disconnect()

	assertState(t, p, Disconnected)
	if !sink.handles["music"].stopped || !sink.handles["fx"].stopped {
		t.Fatalf("disconnect should stop every stream")
	}
	if !(*timers)[0].stopped {
		t.Fatalf("disconnect should cancel the deadline")
	}
}

func TestPlayer_DeadlineFiresWithoutTheLoop(t *testing.T) {
	p := New(&fakeOpener{})
	sink := newFakeSink()
	p.Connect(sink)
	ctx := context.Background()

	_ = p.StartMedia(ctx, "music")
	if err := p.Interrupt(ctx, "airhorn", 20*time.Millisecond); err != nil {
		t.Fatalf("interrupt: %v", err)
	}

	// Nothing else calls into the player: the timer alone must restore.
	deadline := time.Now().Add(2 * time.Second)
	for p.Snapshot().Interrupt != "" {
		if time.Now().After(deadline) {
			t.Fatalf("interrupt outlived its deadline: %+v", p.Snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}

	assertState(t, p, Playing)
	if !sink.handles["airhorn"].stopped || !sink.handles["music"].playing {
		t.Fatalf("expected effect stopped and music resumed")
	}
}

func TestPlayer_PlayFailureClosesStream(t *testing.T) {
	p, sink, _ := newTestPlayer(t)
	opener := p.opener.(*fakeOpener)
	ctx := context.Background()
	sink.refuse["song"] = true
	sink.refuse["fx"] = true

	if err := p.StartMedia(ctx, "song"); err == nil {
		t.Fatalf("expected play error")
	}
	_ = p.StartMedia(ctx, "music")
	if err := p.Interrupt(ctx, "fx", time.Second); err == nil {
		t.Fatalf("expected play error")
	}

	for _, s := range opener.opened {
		if want := s.ref != "music"; s.closed != want {
			t.Errorf("stream %s: closed=%v, want %v", s.ref, s.closed, want)
		}
	}
	if !sink.handles["music"].playing {
		t.Fatalf("primary should resume after a failed interrupt")
	}
}

func TestPlayer_ReconnectAfterDisconnect(t *testing.T) {
	p, _, _ := newTestPlayer(t)

	p.Disconnect()
	if p.Connected() {
		t.Fatalf("expected disconnected")
	}
	if err := p.StartMedia(context.Background(), "song"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	sink := newFakeSink()
	p.Connect(sink)
	assertState(t, p, Idle)
	if err := p.StartMedia(context.Background(), "song"); err != nil {
		t.Fatalf("start after reconnect: %v", err)
	}
	if !sink.handles["song"].playing {
		t.Fatalf("expected song on the new sink")
	}
}
