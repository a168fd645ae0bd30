// Package post delivers text and images to chat.
package post

import (
	"context"
	"errors"
	log "log/slog"
)

// Log writes posts to the log. It is the sink of last resort.
type Log struct{}

func (Log) Post(_ context.Context, text, imageURL string) error {
	log.Info("Post", "text", text, "image", imageURL)
	return nil
}

// Poster is anything Multi can fan out to.
type Poster interface {
	Post(ctx context.Context, text, imageURL string) error
}

// Multi posts to every sink and joins their errors.
type Multi []Poster

func (m Multi) Post(ctx context.Context, text, imageURL string) error {
	var errs []error
	for _, p := range m {
		if err := p.Post(ctx, text, imageURL); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
