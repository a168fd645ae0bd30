package post

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/slack-go/slack"
)

// Slack posts into one channel with a bot token.
type Slack struct {
	api     *slack.Client
	channel string
}

type SlackConfig struct {
	Token      string
	Channel    string
	HTTPClient *http.Client
	APIBase    string // default https://slack.com/api/
}

func NewSlack(cfg SlackConfig) (*Slack, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("slack: missing bot token")
	}
	if cfg.Channel == "" {
		return nil, errors.New("slack: missing channel")
	}

	base := strings.TrimSpace(cfg.APIBase)
	if base == "" {
		base = "https://slack.com/api"
	}
	base = strings.TrimRight(base, "/") + "/"

	opts := []slack.Option{slack.OptionAPIURL(base)}
	if cfg.HTTPClient != nil {
		opts = append(opts, slack.OptionHTTPClient(cfg.HTTPClient))
	}
	return &Slack{api: slack.New(token, opts...), channel: cfg.Channel}, nil
}

// Post sends text, an image block, or both.
func (s *Slack) Post(ctx context.Context, text, imageURL string) error {
	text = strings.TrimSpace(text)
	if text == "" && imageURL == "" {
		return nil
	}

	fallback := text
	if fallback == "" {
		fallback = imageURL
	}
	opts := []slack.MsgOption{slack.MsgOptionText(fallback, false)}

	if imageURL != "" {
		var blocks []slack.Block
		if text != "" {
			blocks = append(blocks, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil))
		}
		blocks = append(blocks, slack.NewImageBlock(imageURL, "gif", "", nil))
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}

	if _, _, err := s.api.PostMessageContext(ctx, s.channel, opts...); err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}
