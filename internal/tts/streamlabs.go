// Package tts synthesizes speech as a playable URL.
package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrNoURL means the service accepted the request but returned nothing to
// play.
var ErrNoURL = errors.New("tts: no url")

const (
	streamlabsBase = "https://streamlabs.com/polly/speak"
	DefaultVoice   = "Brian"

	// Polly rejects longer inputs.
	maxTextLen = 550
)

// Streamlabs uses the Streamlabs Polly endpoint.
type Streamlabs struct {
	client *http.Client
	voice  string
	base   string
}

func NewStreamlabs(voice string, client *http.Client) *Streamlabs {
	if client == nil {
		client = http.DefaultClient
	}
	if voice == "" {
		voice = DefaultVoice
	}
	return &Streamlabs{client: client, voice: voice, base: streamlabsBase}
}

type speakResponse struct {
	Success  bool   `json:"success"`
	SpeakURL string `json:"speak_url"`
	Error    string `json:"error"`
}

// URL returns a URL that plays text in the configured voice.
func (s *Streamlabs) URL(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoURL
	}
	if r := []rune(text); len(r) > maxTextLen {
		text = string(r[:maxTextLen])
	}

	form := url.Values{}
	form.Set("voice", s.voice)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("streamlabs: %w", err)
	}
	defer resp.Body.Close()

	var out speakResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("streamlabs: %s: decode: %w", resp.Status, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("streamlabs: %s: %s", resp.Status, out.Error)
	}
	if out.SpeakURL == "" {
		return "", ErrNoURL
	}
	return out.SpeakURL, nil
}
