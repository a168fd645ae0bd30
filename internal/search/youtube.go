// Package search resolves free-text queries to playable media and GIFs.
package search

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"math/rand/v2"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// ErrNoResults means the query matched nothing usable.
var ErrNoResults = errors.New("search: no results")

// VideoPrefix is prepended to video ids so the opener knows to stream them.
const VideoPrefix = "youtube:"

// YouTube searches videos with the YouTube Data API.
type YouTube struct {
	svc   *youtube.Service
	key   string
	limit int64
	pick  func(n int) int
}

type YouTubeConfig struct {
	APIKey     string
	HTTPClient *http.Client
	Endpoint   string // overrides the API base URL
	MaxResults int64  // default 10
}

func NewYouTube(ctx context.Context, cfg YouTubeConfig) (*YouTube, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("youtube: empty api key")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}

	limit := cfg.MaxResults
	if limit <= 0 {
		limit = 10
	}
	return &YouTube{svc: svc, key: cfg.APIKey, limit: limit, pick: rand.IntN}, nil
}

// Search returns the most relevant video for query, or a random one among the
// top results when randomize is set.
func (y *YouTube) Search(ctx context.Context, query string, randomize bool) (string, error) {
	resp, err := y.svc.Search.List([]string{"snippet"}).
		Q(query).
		Type("video").
		MaxResults(y.limit).
		Order("relevance").
		SafeSearch("none").
		Context(ctx).
		Do(googleapi.QueryParameter("key", y.key))
	if err != nil {
		return "", fmt.Errorf("youtube search: %w", err)
	}

	var ids []string
	for _, it := range resp.Items {
		if it.Id != nil && it.Id.VideoId != "" {
			ids = append(ids, it.Id.VideoId)
		}
	}
	if len(ids) == 0 {
		return "", ErrNoResults
	}

	i := 0
	if randomize {
		i = y.pick(len(ids))
	}
	log.Debug("YouTube match", "query", query, "id", ids[i], "of", len(ids))
	return VideoPrefix + ids[i], nil
}
