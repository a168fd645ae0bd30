package tts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Espeak synthesizes offline with the espeak-ng command line tool. Each call
// renders a wav file and returns it as a file:// URL. Only the most recent
// files are kept on disk.
type Espeak struct {
	bin   string
	voice string
	dir   string
	keep  int

	mu    sync.Mutex
	files []string

	// run is replaced in tests.
	run func(ctx context.Context, name string, args ...string) error
}

func NewEspeak(voice, dir string) (*Espeak, error) {
	if dir == "" {
		d, err := os.MkdirTemp("", "voxcast-tts-")
		if err != nil {
			return nil, fmt.Errorf("espeak: %w", err)
		}
		dir = d
	}
	if voice == "" {
		voice = "en"
	}
	return &Espeak{
		bin:   "espeak-ng",
		voice: voice,
		dir:   dir,
		keep:  8,
		run: func(ctx context.Context, name string, args ...string) error {
			var stderr bytes.Buffer
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Stderr = &stderr
			if err := cmd.Run(); err != nil {
				return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
			}
			return nil
		},
	}, nil
}

func (e *Espeak) URL(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoURL
	}

	path := filepath.Join(e.dir, uuid.NewString()+".wav")
	if err := e.run(ctx, e.bin, "-v", e.voice, "-w", path, "--", text); err != nil {
		return "", fmt.Errorf("espeak: %w", err)
	}

	e.mu.Lock()
	e.files = append(e.files, path)
	for len(e.files) > e.keep {
		_ = os.Remove(e.files[0])
		e.files = e.files[1:]
	}
	e.mu.Unlock()

	return "file://" + path, nil
}

// Close removes every file still on disk.
func (e *Espeak) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range e.files {
		_ = os.Remove(f)
	}
	e.files = nil
	return nil
}
