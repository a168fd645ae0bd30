// Package listen turns utterances from a source into queued action requests.
package listen

import (
	"context"
	"errors"
	"io"
	log "log/slog"
	"time"

	"voxcast/internal/action"
)

type Classifier interface {
	Classify(ctx context.Context, utterance string) *action.Request
}

type Author interface {
	Write(ctx context.Context, utterance, addedInfo string) (string, error)
}

type Enqueuer interface {
	Enqueue(r *action.Request) bool
}

type Config struct {
	Name       string
	Source     Source
	Gate       *Gate // nil lets everything through
	Classifier Classifier
	Author     Author // nil drops no_tool utterances
	Out        Enqueuer
}

// Listener reads a Source and enqueues one request per qualifying
// utterance. Utterances from one Listener are handled in order.
type Listener struct {
	cfg    Config
	logger *log.Logger
}

func New(cfg Config) *Listener {
	if cfg.Name == "" {
		cfg.Name = "listener"
	}
	return &Listener{cfg: cfg, logger: log.With("source", cfg.Name)}
}

// Run consumes the source until it is exhausted or ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info("Listening", "wake", l.cfg.Gate.Phrases())
	for {
		text, err := l.cfg.Source.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			l.logger.Warn("Source failed", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		l.Handle(ctx, text)
	}
}

// Handle classifies one utterance and enqueues the result. It returns what
// was enqueued, or nil.
func (l *Listener) Handle(ctx context.Context, text string) *action.Request {
	if !l.cfg.Gate.Match(text) {
		l.logger.Debug("No wake phrase", "text", text)
		return nil
	}
	l.logger.Info("Wake phrase heard", "text", text)

	req := l.cfg.Classifier.Classify(ctx, text)
	if req == nil || req.Kind == action.NoTool {
		return l.converse(ctx, text)
	}

	if !req.Actionable() {
		l.logger.Info("Dropped request with nothing to act on", "id", req.ID, "request", req.String())
		return nil
	}

	l.cfg.Out.Enqueue(req)
	return req
}

// converse answers an utterance no tool applies to with a spoken reply.
func (l *Listener) converse(ctx context.Context, text string) *action.Request {
	if l.cfg.Author == nil {
		return nil
	}

	reply, err := l.cfg.Author.Write(ctx, text, "")
	if err != nil {
		l.logger.Warn("Failed to author reply", "err", err)
		return nil
	}
	if reply == "" {
		return nil
	}

	req := action.SpokenReply(reply)
	req.Utterance = text
	l.cfg.Out.Enqueue(req)
	return req
}
