// Package dispatch drains the action queue and carries out each request
// against the player and the external collaborators.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"runtime/debug"
	"time"

	"voxcast/internal/action"
	"voxcast/internal/player"
	"voxcast/internal/queue"
)

// DefaultEffectCap bounds how long a sound effect may hold the output.
const DefaultEffectCap = 5 * time.Second

type MediaSearcher interface {
	// Search resolves query to a playable reference. With randomize it may
	// return any good match instead of the top one.
	Search(ctx context.Context, query string, randomize bool) (string, error)
}

type GIFSearcher interface {
	Search(ctx context.Context, query string) (string, error)
}

type Knowledge interface {
	Ask(ctx context.Context, query string) (string, error)
}

type Speech interface {
	// URL returns a playable URL speaking text.
	URL(ctx context.Context, text string) (string, error)
}

type Author interface {
	Write(ctx context.Context, utterance, addedInfo string) (string, error)
}

type Poster interface {
	Post(ctx context.Context, text, imageURL string) error
}

// Collaborators are the external services requests are resolved against.
// A nil collaborator turns its branch into a logged no-op.
type Collaborators struct {
	Media     MediaSearcher
	Effects   MediaSearcher
	GIFs      GIFSearcher
	Knowledge Knowledge
	Speech    Speech
	Author    Author
	Poster    Poster
}

// Dispatcher is the single consumer of the action queue. It is the only
// goroutine that sends commands to the player; deadlines and track ends are
// applied by the player itself.
type Dispatcher struct {
	queue  *queue.Queue[*action.Request]
	player *player.Player
	c      Collaborators

	voice       player.Sink
	effectCap   time.Duration
	callTimeout time.Duration

	// handled, when set, is called after every request.
	handled func(*action.Request)
}

type Option func(*Dispatcher)

func WithEffectCap(d time.Duration) Option {
	return func(x *Dispatcher) {
		if d > 0 {
			x.effectCap = d
		}
	}
}

// WithVoice sets the output that connect requests attach the player to.
func WithVoice(s player.Sink) Option {
	return func(x *Dispatcher) { x.voice = s }
}

// WithCallTimeout bounds each collaborator call. Zero means no bound.
func WithCallTimeout(d time.Duration) Option {
	return func(x *Dispatcher) { x.callTimeout = d }
}

func New(q *queue.Queue[*action.Request], p *player.Player, c Collaborators, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:       q,
		player:      p,
		c:           c,
		effectCap:   DefaultEffectCap,
		callTimeout: 30 * time.Second,
	}
	if d.c.Effects == nil {
		d.c.Effects = d.c.Media
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue hands r to the loop. It never blocks.
func (d *Dispatcher) Enqueue(r *action.Request) bool {
	return d.queue.Push(r)
}

// Run consumes requests in arrival order until ctx is done or the queue is
// closed and drained.
func (d *Dispatcher) Run(ctx context.Context) error {
	log.Info("Dispatcher started", "effect_cap", d.effectCap)
	defer log.Info("Dispatcher stopped")

	for {
		r, err := d.queue.Pop(ctx)
		switch {
		case errors.Is(err, queue.ErrClosed):
			return nil
		case err != nil:
			return err
		case r == nil:
			continue
		}

		d.handle(ctx, r)
		if d.handled != nil {
			d.handled(r)
		}
	}
}

// Pending is the number of requests waiting behind the one in flight.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

func (d *Dispatcher) handle(ctx context.Context, r *action.Request) {
	defer func() {
		if v := recover(); v != nil {
			log.Error("Request handler panicked", "id", r.ID, "kind", r.Kind, "panic", v, "stack", string(debug.Stack()))
		}
	}()

	l := log.With("id", r.ID, "kind", r.Kind.String())
	l.Debug("Dispatching", "request", r.String())

	var err error
	switch r.Kind {
	case action.NoTool:
		l.Debug("Ignoring no_tool request")
	case action.Media:
		err = d.media(ctx, r)
	case action.SoundEffect:
		err = d.soundEffect(ctx, r)
	case action.Knowledge:
		err = d.knowledge(ctx, r)
	case action.Reply:
		err = d.reply(ctx, r)
	case action.Post:
		err = d.post(ctx, r, false)
	case action.PostWithMedia:
		err = d.post(ctx, r, true)
	case action.VolumeControl:
		err = d.volume(r)
	case action.Connect:
		err = d.connect()
	case action.Disconnect:
		err = d.disconnect()
	default:
		l.Warn("Unknown request kind")
	}

	switch {
	case err == nil:
	case errors.Is(err, errSkipped):
		l.Debug("Request had no effect", "reason", err)
	default:
		l.Warn("Request failed", "err", err)
	}
}

// errSkipped marks requests that were dropped on purpose.
var errSkipped = errors.New("skipped")

func skip(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errSkipped, fmt.Sprintf(format, args...))
}

func (d *Dispatcher) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.callTimeout)
}

func (d *Dispatcher) media(ctx context.Context, r *action.Request) error {
	switch r.Transport {
	case action.Stop:
		d.player.Stop()
		return nil
	case action.Pause:
		d.player.Pause()
		return nil
	case action.Resume:
		d.player.Resume()
		return nil
	}

	if r.Query == "" {
		return skip("media request without query")
	}
	if d.c.Media == nil {
		return skip("no media search configured")
	}

	cctx, cancel := d.callCtx(ctx)
	defer cancel()

	ref, err := d.c.Media.Search(cctx, r.Query, r.Shuffle)
	if err != nil {
		return fmt.Errorf("media search %q: %w", r.Query, err)
	}
	return d.player.StartMedia(cctx, ref)
}

func (d *Dispatcher) soundEffect(ctx context.Context, r *action.Request) error {
	if r.Query == "" {
		return skip("sound effect without query")
	}
	if d.c.Effects == nil {
		return skip("no media search configured")
	}

	cctx, cancel := d.callCtx(ctx)
	defer cancel()

	ref, err := d.c.Effects.Search(cctx, r.Query, true)
	if err != nil {
		return fmt.Errorf("effect search %q: %w", r.Query, err)
	}
	return d.player.Interrupt(cctx, ref, d.effectCap)
}

// knowledge answers through the author and feeds the result back into the
// queue as a spoken reply. A missing answer still gets a reply, just without
// the added info.
func (d *Dispatcher) knowledge(ctx context.Context, r *action.Request) error {
	query := r.Query
	if query == "" {
		query = r.Utterance
	}
	if query == "" {
		return skip("knowledge request without query")
	}

	cctx, cancel := d.callCtx(ctx)
	defer cancel()

	var answer string
	if d.c.Knowledge != nil {
		var err error
		answer, err = d.c.Knowledge.Ask(cctx, query)
		if err != nil {
			log.Info("Knowledge query had no answer", "id", r.ID, "query", query, "err", err)
		}
	}

	utterance := r.Utterance
	if utterance == "" {
		utterance = query
	}

	text := answer
	if d.c.Author != nil {
		written, err := d.c.Author.Write(cctx, utterance, answer)
		if err != nil {
			log.Warn("Failed to author reply", "id", r.ID, "err", err)
		} else {
			text = written
		}
	}
	if text == "" {
		return skip("nothing to say")
	}

	reply := action.SpokenReply(text)
	reply.Utterance = utterance
	d.Enqueue(reply)
	return nil
}

// reply speaks r.Text over whatever is playing. Spoken replies run to their
// natural end.
func (d *Dispatcher) reply(ctx context.Context, r *action.Request) error {
	if r.Text == "" {
		return skip("empty reply")
	}
	if d.c.Speech == nil {
		log.Info("Reply", "id", r.ID, "text", r.Text)
		return skip("no speech synthesis configured")
	}

	cctx, cancel := d.callCtx(ctx)
	defer cancel()

	url, err := d.c.Speech.URL(cctx, r.Text)
	if err != nil {
		return fmt.Errorf("speech synthesis: %w", err)
	}
	return d.player.Interrupt(cctx, url, 0)
}

// post sends text, an image or both. A bare query on a plain post is a meme
// request and posts only the GIF.
func (d *Dispatcher) post(ctx context.Context, r *action.Request, withMedia bool) error {
	if d.c.Poster == nil {
		return skip("no messaging sink configured")
	}

	cctx, cancel := d.callCtx(ctx)
	defer cancel()

	text := r.Text
	var image string
	if r.Query != "" && (withMedia || text == "") && d.c.GIFs != nil {
		url, err := d.c.GIFs.Search(cctx, r.Query)
		if err != nil {
			log.Info("No GIF found", "id", r.ID, "query", r.Query, "err", err)
		} else {
			image = url
		}
	}
	if text == "" && image == "" {
		return skip("nothing to post")
	}

	if err := d.c.Poster.Post(cctx, text, image); err != nil {
		return fmt.Errorf("post: %w", err)
	}
	return nil
}

func (d *Dispatcher) volume(r *action.Request) error {
	arg := r.Query
	if arg == "" {
		arg = r.Text
	}
	level, err := ParseVolume(arg, d.player.Volume())
	if err != nil {
		return skip("%v", err)
	}
	d.player.SetVolume(level)
	log.Info("Volume set", "id", r.ID, "level", level)
	return nil
}

// connect attaches the voice output. A live connection is left alone so a
// repeated connect does not cut the music.
func (d *Dispatcher) connect() error {
	if d.voice == nil {
		return skip("no voice output configured")
	}
	if d.player.Connected() {
		return skip("already connected")
	}
	d.player.Connect(d.voice)
	return nil
}

func (d *Dispatcher) disconnect() error {
	if !d.player.Connected() {
		return skip("not connected")
	}
	d.player.Disconnect()
	return nil
}
