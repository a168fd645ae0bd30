package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"voxcast/internal/player"
	"voxcast/internal/search"
)

// YouTubePrefix marks a media reference resolved by the YouTube search.
const YouTubePrefix = search.VideoPrefix

// Opener turns source references into playable Tracks:
//
//	youtube:<id>   streamed through yt-dlp and ffmpeg
//	http(s)://...  fetched and decoded in memory
//	anything else  read from the local filesystem
type Opener struct {
	client   *http.Client
	maxBytes int64
	ytdlp    string
	ffmpeg   string
}

type OpenerConfig struct {
	Client   *http.Client
	MaxBytes int64  // cap for in-memory clips, default 32 MiB
	YTDLP    string // default "yt-dlp"
	FFmpeg   string // default "ffmpeg"
}

func NewOpener(cfg OpenerConfig) *Opener {
	o := &Opener{
		client:   cfg.Client,
		maxBytes: cfg.MaxBytes,
		ytdlp:    cfg.YTDLP,
		ffmpeg:   cfg.FFmpeg,
	}
	if o.client == nil {
		o.client = http.DefaultClient
	}
	if o.maxBytes <= 0 {
		o.maxBytes = 32 << 20
	}
	if o.ytdlp == "" {
		o.ytdlp = "yt-dlp"
	}
	if o.ffmpeg == "" {
		o.ffmpeg = "ffmpeg"
	}
	return o
}

func (o *Opener) Open(ctx context.Context, ref string) (player.Stream, error) {
	switch {
	case strings.HasPrefix(ref, YouTubePrefix):
		return o.openYouTube(ctx, strings.TrimPrefix(ref, YouTubePrefix))
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return o.openURL(ctx, ref)
	default:
		return o.openFile(strings.TrimPrefix(ref, "file://"))
	}
}

func (o *Opener) openURL(ctx context.Context, url string) (*Track, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, o.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch body: %w", err)
	}
	if int64(len(data)) > o.maxBytes {
		return nil, fmt.Errorf("fetch: clip larger than %d bytes", o.maxBytes)
	}

	return Decode(data, resp.Header.Get("Content-Type")+" "+req.URL.Path)
}

func (o *Opener) openFile(path string) (*Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data, path)
}

// openYouTube resolves the direct audio URL with yt-dlp, then has ffmpeg
// transcode it to raw PCM at the output rate. The ffmpeg process lives as long
// as the track.
func (o *Opener) openYouTube(ctx context.Context, id string) (*Track, error) {
	if id == "" {
		return nil, errors.New("youtube: empty video id")
	}

	watch := "https://www.youtube.com/watch?v=" + id
	var stderr bytes.Buffer
	resolve := exec.CommandContext(ctx, o.ytdlp, "-q", "--no-playlist", "-f", "bestaudio", "-g", watch)
	resolve.Stderr = &stderr
	out, err := resolve.Output()
	if err != nil {
		return nil, fmt.Errorf("yt-dlp: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	direct := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if direct == "" {
		return nil, errors.New("yt-dlp: no audio url")
	}

	cmd := exec.Command(o.ffmpeg,
		"-loglevel", "error",
		"-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5",
		"-i", direct,
		"-vn", "-f", "s16le", "-ac", "2", "-ar", fmt.Sprint(int(OutputRate)),
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}
	log.Debug("Streaming youtube audio", "id", id, "pid", cmd.Process.Pid)

	raw := newRawStreamer(stdout, int(OutputRate)*2)
	return &Track{
		streamer: raw,
		format:   beepFormat(int(OutputRate)),
		closer:   closers{&process{cmd: cmd}, raw},
	}, nil
}

type process struct {
	cmd *exec.Cmd
}

func (p *process) Close() error {
	_ = p.cmd.Process.Kill()
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Killed on purpose.
		return nil
	}
	return err
}
