package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
)

const giphyBase = "https://api.giphy.com/v1/gifs/search"

// Giphy finds GIFs with the Giphy search API.
type Giphy struct {
	client *http.Client
	key    string
	base   string
	limit  int
	pick   func(n int) int
}

func NewGiphy(key string, client *http.Client) *Giphy {
	if client == nil {
		client = http.DefaultClient
	}
	return &Giphy{client: client, key: key, base: giphyBase, limit: 10, pick: rand.IntN}
}

type giphyResponse struct {
	Data []struct {
		Images struct {
			Original struct {
				URL string `json:"url"`
			} `json:"original"`
		} `json:"images"`
	} `json:"data"`
}

// Search returns the original-size URL of a random GIF among the top
// results.
func (g *Giphy) Search(ctx context.Context, query string) (string, error) {
	if g.key == "" {
		return "", errors.New("giphy: empty api key")
	}

	q := url.Values{}
	q.Set("api_key", g.key)
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(g.limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.base+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("giphy: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("giphy: unexpected status %s", resp.Status)
	}

	var out giphyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("giphy: decode: %w", err)
	}

	var urls []string
	for _, d := range out.Data {
		if u := d.Images.Original.URL; u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return "", ErrNoResults
	}
	return urls[g.pick(len(urls))], nil
}
