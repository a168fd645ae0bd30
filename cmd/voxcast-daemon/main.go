package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	log "log/slog"
	cli "github.com/spf13/pflag"

	"voxcast/internal/action"
	"voxcast/internal/audio"
	"voxcast/internal/bus"
	"voxcast/internal/config"
	"voxcast/internal/dispatch"
	"voxcast/internal/ipc"
	"voxcast/internal/knowledge"
	"voxcast/internal/listen"
	"voxcast/internal/nlu"
	"voxcast/internal/player"
	"voxcast/internal/post"
	"voxcast/internal/proxy"
	"voxcast/internal/queue"
	"voxcast/internal/search"
	"voxcast/internal/tts"
	"voxcast/pkg/stt"
)

func main() {
	cfg, err := config.Parse("voxcast-daemon", os.Args[1:])
	if errors.Is(err, cli.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: cfg.Level(),
	})))

	log.Info("Booting up")
	if err := run(cfg); err != nil {
		log.Error("Daemon failed", "err", err)
		os.Exit(1)
	}
	log.Info("Bye")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient, err := proxy.NewClient(cfg.Proxy)
	if err != nil {
		return fmt.Errorf("proxy %s: %w", cfg.Proxy, err)
	}
	log.Debug("Loaded http client", "proxy", cfg.Proxy)

	classifier := nlu.NewClassifier(nlu.NewOpenAI(cfg.Keys.OpenAI, cfg.ClassifierModel, httpClient))
	author := nlu.NewAuthor(nlu.NewOpenAI(cfg.Keys.OpenAI, cfg.AuthorModel, httpClient), cfg.Persona)

	var hub *bus.Conn
	if cfg.BusURL != "" {
		hub, err = bus.Dial(ctx, bus.Config{URL: cfg.BusURL, Shard: cfg.Shard})
		if err != nil {
			return err
		}
		defer hub.Close()
	}

	collab, cleanup, err := collaborators(ctx, cfg, httpClient, hub)
	if err != nil {
		return err
	}
	defer cleanup()
	collab.Author = author

	opts := []player.Option{player.WithVolume(cfg.Volume)}
	if cfg.Duck {
		opts = append(opts, player.WithHooks(audio.DuckHooks{
			Ducker: audio.NewDucker([]string{"voxcast", "voxcast-daemon"}, 10),
			Factor: 0.3,
			Fade:   300 * time.Millisecond,
		}))
	}
	p := player.New(audio.NewOpener(audio.OpenerConfig{Client: httpClient}), opts...)

	spk := audio.NewSpeaker(100 * time.Millisecond)
	if err := spk.Open(); err != nil {
		return err
	}
	defer spk.Close()

	q := queue.New[*action.Request]()
	d := dispatch.New(q, p, collab,
		dispatch.WithEffectCap(cfg.EffectCap),
		dispatch.WithVoice(spk),
	)
	d.Enqueue(action.New(action.Connect))

	gate := listen.NewGate(cfg.Wake...)
	say := listen.NewChan(16)
	listeners := []*listen.Listener{
		listen.New(listen.Config{Name: "ctl", Source: say, Classifier: classifier, Author: author, Out: d}),
	}

	src, closeSrc, err := source(cfg, hub, gate)
	if err != nil {
		return err
	}
	defer closeSrc()
	if src != nil {
		listeners = append(listeners, listen.New(listen.Config{
			Name:       cfg.Source,
			Source:     src,
			Gate:       gate,
			Classifier: classifier,
			Author:     author,
			Out:        d,
		}))
	}

	srv, err := ipc.Listen(cfg.Socket, d.Control(say.Push))
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Task failed", "task", name, "err", err)
			}
		}()
	}

	spawn("ipc", srv.Serve)
	for _, l := range listeners {
		spawn("listener", l.Run)
	}
	if hub != nil {
		var utterances *listen.Chan
		if cfg.Source == "bus" {
			utterances, _ = src.(*listen.Chan)
		}
		feed := listen.BusFeed(utterances, d)
		spawn("hub", func(ctx context.Context) error { return hub.Run(ctx, feed) })
	}

	log.Info("Boot up - successful", "source", cfg.Source, "wake", gate.Phrases())

	err = d.Run(ctx)
	stop()
	say.Close()
	q.Close()
	wg.Wait()
	p.Disconnect()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// collaborators builds every optional service whose credentials are present.
func collaborators(ctx context.Context, cfg *config.Config, hc *http.Client, hub *bus.Conn) (dispatch.Collaborators, func(), error) {
	var (
		c       dispatch.Collaborators
		closers []func()
	)
	cleanup := func() {
		for _, fn := range closers {
			fn()
		}
	}

	if cfg.Keys.Google != "" {
		yt, err := search.NewYouTube(ctx, search.YouTubeConfig{APIKey: cfg.Keys.Google, HTTPClient: hc})
		if err != nil {
			return c, cleanup, err
		}
		c.Media = yt
	} else {
		log.Warn("GOOGLE_API_KEY not set, media search disabled")
	}

	if cfg.Keys.Giphy != "" {
		c.GIFs = search.NewGiphy(cfg.Keys.Giphy, hc)
	}
	if cfg.Keys.Wolfram != "" {
		c.Knowledge = knowledge.NewWolfram(cfg.Keys.Wolfram, hc)
	}

	switch cfg.TTS {
	case "espeak":
		e, err := tts.NewEspeak(cfg.Voice, "")
		if err != nil {
			return c, cleanup, err
		}
		closers = append(closers, func() { _ = e.Close() })
		c.Speech = e
	default:
		c.Speech = tts.NewStreamlabs(cfg.Voice, hc)
	}

	var sinks post.Multi
	if cfg.Keys.Slack != "" && cfg.SlackChannel != "" {
		s, err := post.NewSlack(post.SlackConfig{Token: cfg.Keys.Slack, Channel: cfg.SlackChannel, HTTPClient: hc})
		if err != nil {
			return c, cleanup, err
		}
		sinks = append(sinks, s)
	}
	if hub != nil {
		sinks = append(sinks, post.NewBus(hub, bus.Broadcast))
	}
	if len(sinks) == 0 {
		sinks = append(sinks, post.Log{})
	}
	c.Poster = sinks

	return c, cleanup, nil
}

// source builds the utterance source selected by --source. A nil Source
// means only the control socket feeds the pipeline.
func source(cfg *config.Config, hub *bus.Conn, gate *listen.Gate) (listen.Source, func(), error) {
	switch cfg.Source {
	case "bus":
		if hub == nil {
			return nil, func() {}, errors.New("bus source without a hub connection")
		}
		ch := listen.NewChan(32)
		return ch, ch.Close, nil

	case "mic":
		rec := audio.NewRecorder(audio.DefaultRecorderConfig())
		if err := rec.Init(); err != nil {
			return nil, func() {}, fmt.Errorf("init recorder: %w", err)
		}
		log.Debug("Loaded recorder")

		prompt := ""
		for _, p := range gate.Phrases() {
			prompt += p + ". "
		}
		tr, err := stt.NewTranscriber(cfg.WhisperModel, stt.Options{
			Language:      cfg.Language,
			InitialPrompt: prompt,
		})
		if err != nil {
			rec.Close()
			return nil, func() {}, fmt.Errorf("init whisper: %w", err)
		}
		log.Debug("Loaded whisper", "model", cfg.WhisperModel)

		return listen.NewMic(rec, tr, audio.CaptureRate/4), func() {
			_ = tr.Close()
			rec.Close()
		}, nil
	}
	return nil, func() {}, nil
}
