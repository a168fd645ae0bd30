package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func youtubeServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/youtube/v3/search" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("key") != "k" || q.Get("type") != "video" || q.Get("maxResults") != "10" || q.Get("order") != "relevance" {
			http.Error(w, "bad query "+r.URL.RawQuery, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestYouTube(t *testing.T, srv *httptest.Server) *YouTube {
	t.Helper()
	y, err := NewYouTube(context.Background(), YouTubeConfig{
		APIKey:     "k",
		HTTPClient: srv.Client(),
		Endpoint:   srv.URL + "/",
	})
	if err != nil {
		t.Fatalf("new youtube: %v", err)
	}
	return y
}

const threeVideos = `{"items": [
	{"id": {"kind": "youtube#video", "videoId": "aaa"}},
	{"id": {"kind": "youtube#channel"}},
	{"id": {"kind": "youtube#video", "videoId": "bbb"}},
	{"id": {"kind": "youtube#video", "videoId": "ccc"}}
]}`

func TestYouTubeSearch(t *testing.T) {
	y := newTestYouTube(t, youtubeServer(t, threeVideos))

	ref, err := y.Search(context.Background(), "lofi beats", false)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if ref != "youtube:aaa" {
		t.Fatalf("expected top result, got %q", ref)
	}

	var asked int
	y.pick = func(n int) int { asked = n; return n - 1 }
	ref, err = y.Search(context.Background(), "airhorn", true)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if asked != 3 || ref != "youtube:ccc" {
		t.Fatalf("expected random pick among 3 videos, got %q (n=%d)", ref, asked)
	}
}

func TestYouTubeNoResults(t *testing.T) {
	y := newTestYouTube(t, youtubeServer(t, `{"items": []}`))
	if _, err := y.Search(context.Background(), "zzzz", true); !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
}

func TestYouTubeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": 403, "message": "quota"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	y := newTestYouTube(t, srv)
	if _, err := y.Search(context.Background(), "lofi", false); err == nil {
		t.Fatalf("expected api error")
	}
}

func TestNewYouTubeNeedsKey(t *testing.T) {
	if _, err := NewYouTube(context.Background(), YouTubeConfig{}); err == nil {
		t.Fatalf("expected error for missing key")
	}
}

func TestGiphySearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("api_key") != "g" || q.Get("limit") != "10" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		if q.Get("q") == "nothing" {
			_, _ = w.Write([]byte(`{"data": []}`))
			return
		}
		_, _ = w.Write([]byte(`{"data": [
			{"images": {"original": {"url": "https://media.giphy.com/1.gif"}}},
			{"images": {"original": {"url": ""}}},
			{"images": {"original": {"url": "https://media.giphy.com/2.gif"}}}
		]}`))
	}))
	defer srv.Close()

	g := NewGiphy("g", srv.Client())
	g.base = srv.URL
	g.pick = func(n int) int {
		if n != 2 {
			t.Errorf("expected 2 candidates, got %d", n)
		}
		return 1
	}

	u, err := g.Search(context.Background(), "cat")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if u != "https://media.giphy.com/2.gif" {
		t.Fatalf("unexpected url %q", u)
	}

	if _, err := g.Search(context.Background(), "nothing"); !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected ErrNoResults, got %v", err)
	}
}

func TestGiphyErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewGiphy("g", srv.Client())
	g.base = srv.URL
	if _, err := g.Search(context.Background(), "cat"); err == nil {
		t.Fatalf("expected status error")
	}

	if _, err := NewGiphy("", nil).Search(context.Background(), "cat"); err == nil {
		t.Fatalf("expected error without key")
	}
}
