// Package knowledge answers factual queries.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"net/url"
	"strings"
)

// ErrNoAnswer means the service understood nothing it could answer.
var ErrNoAnswer = errors.New("knowledge: no answer")

const wolframBase = "https://api.wolframalpha.com/v1/result"

// Wolfram queries the Wolfram|Alpha short answers API.
type Wolfram struct {
	client *http.Client
	appID  string
	base   string
}

func NewWolfram(appID string, client *http.Client) *Wolfram {
	if client == nil {
		client = http.DefaultClient
	}
	return &Wolfram{client: client, appID: appID, base: wolframBase}
}

// Ask returns a one-line answer to query.
func (w *Wolfram) Ask(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", ErrNoAnswer
	}

	q := url.Values{}
	q.Set("appid", w.appID)
	q.Set("i", query)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.base+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("wolfram: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("wolfram: read: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotImplemented:
		return "", ErrNoAnswer
	default:
		return "", fmt.Errorf("wolfram: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	answer := strings.TrimSpace(string(body))
	if answer == "" {
		return "", ErrNoAnswer
	}
	log.Debug("Wolfram answer", "query", query, "answer", answer)
	return answer, nil
}
