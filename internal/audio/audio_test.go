package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// makeWAV builds a 16-bit PCM wav file.
func makeWAV(t *testing.T, rate, channels int, samples []int16) []byte {
	t.Helper()

	var b bytes.Buffer
	dataLen := len(samples) * 2
	w := func(v any) {
		if err := binary.Write(&b, binary.LittleEndian, v); err != nil {
			t.Fatalf("write wav: %v", err)
		}
	}

	b.WriteString("RIFF")
	w(uint32(36 + dataLen))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	w(uint32(16))
	w(uint16(1))
	w(uint16(channels))
	w(uint32(rate))
	w(uint32(rate * channels * 2))
	w(uint16(channels * 2))
	w(uint16(16))
	b.WriteString("data")
	w(uint32(dataLen))
	w(samples)
	return b.Bytes()
}

func TestSniff(t *testing.T) {
	tests := []struct {
		data []byte
		hint string
		want string
	}{
		{[]byte("RIFF...."), "", "wav"},
		{[]byte("OggS...."), "", "ogg"},
		{[]byte("ID3\x04"), "", "mp3"},
		{[]byte{0xFF, 0xFB, 0x90}, "", "mp3"},
		{[]byte("????"), "audio/mpeg /polly/speak", "mp3"},
		{[]byte("????"), "clip.oga", "ogg"},
		{[]byte("????"), "", ""},
	}
	for _, tt := range tests {
		if got := sniff(tt.data, tt.hint); got != tt.want {
			t.Errorf("sniff(%q, %q) = %q, want %q", tt.data, tt.hint, got, tt.want)
		}
	}
}

func TestDecodeWAVMono(t *testing.T) {
	data := makeWAV(t, 22050, 1, []int16{0, 16384, -16384, 32767})

	tr, err := Decode(data, "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tr.Format().SampleRate != 22050 {
		t.Fatalf("expected 22050 Hz, got %d", tr.Format().SampleRate)
	}

	out := make([][2]float64, 8)
	n, ok := tr.streamer.Stream(out)
	if !ok || n != 4 {
		t.Fatalf("expected 4 frames, got %d (ok=%v)", n, ok)
	}
	if out[1][0] != 0.5 || out[1][1] != 0.5 {
		t.Fatalf("mono should be copied to both channels, got %v", out[1])
	}
	if _, ok := tr.streamer.Stream(out); ok {
		t.Fatalf("expected stream to be drained")
	}
}

func TestDecodeRejectsUnknown(t *testing.T) {
	if _, err := Decode([]byte("hello world"), "notes.txt"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	if _, err := Decode(nil, ""); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestPCMStreamerStereoSeek(t *testing.T) {
	s := newPCMStreamer([]float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, 2)
	if s.Len() != 3 {
		t.Fatalf("expected 3 frames, got %d", s.Len())
	}
	if err := s.Seek(2); err != nil {
		t.Fatalf("seek: %v", err)
	}

	out := make([][2]float64, 4)
	n, ok := s.Stream(out)
	if !ok || n != 1 {
		t.Fatalf("expected 1 frame after seek, got %d", n)
	}
	if float32(out[0][0]) != 0.5 || float32(out[0][1]) != 0.6 {
		t.Fatalf("unexpected frame %v", out[0])
	}
	if err := s.Seek(10); err == nil {
		t.Fatalf("expected seek error")
	}
}

// waitEOF blocks until the reader goroutine has consumed the whole source.
func waitEOF(t *testing.T, s *rawStreamer) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		eof := s.eof
		s.mu.Unlock()
		if eof {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("reader never reached the end of the source")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRawStreamer(t *testing.T) {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.LittleEndian, []int16{16384, -16384, 0, 32767, 1})

	s := newRawStreamer(&b, 0)
	waitEOF(t, s)

	out := make([][2]float64, 4)
	n, ok := s.Stream(out)
	if !ok || n != 2 {
		t.Fatalf("expected 2 frames, got %d (ok=%v)", n, ok)
	}
	if out[0][0] != 0.5 || out[0][1] != -0.5 {
		t.Fatalf("unexpected first frame %v", out[0])
	}
	if _, ok := s.Stream(out); ok {
		t.Fatalf("expected end of stream")
	}
	if s.Err() != nil {
		t.Fatalf("clean end should not report an error: %v", s.Err())
	}
}

func TestRawStreamerNeverBlocks(t *testing.T) {
	pr, pw := io.Pipe()
	defer pr.Close()

	s := newRawStreamer(pr, 4)
	defer s.Close()

	out := make([][2]float64, 8)
	for i := range out {
		out[i] = [2]float64{1, 1}
	}

	type result struct {
		n  int
		ok bool
	}
	got := make(chan result, 1)
	go func() {
		n, ok := s.Stream(out)
		got <- result{n, ok}
	}()

	select {
	case r := <-got:
		if r.n != len(out) || !r.ok {
			t.Fatalf("expected a full buffer of silence, got %d (ok=%v)", r.n, r.ok)
		}
	case <-time.After(time.Second):
		t.Fatalf("Stream blocked on a silent source")
	}
	for i, f := range out {
		if f != [2]float64{} {
			t.Fatalf("frame %d should be silent, got %v", i, f)
		}
	}

	go func() {
		_ = binary.Write(pw, binary.LittleEndian, []int16{16384, 16384, 16384, 16384})
		pw.Close()
	}()
	waitEOF(t, s)

	n, ok := s.Stream(out)
	if !ok || n != 2 || out[1][0] != 0.5 {
		t.Fatalf("expected the 2 written frames, got %d (ok=%v) %v", n, ok, out[:2])
	}
	if _, ok := s.Stream(out); ok {
		t.Fatalf("expected end of stream")
	}
}

func TestOpenerFileAndURL(t *testing.T) {
	wavData := makeWAV(t, 48000, 2, []int16{1, 2, 3, 4})

	dir := t.TempDir()
	path := filepath.Join(dir, "chime.wav")
	if err := os.WriteFile(path, wavData, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wavData)
	}))
	defer srv.Close()

	o := NewOpener(OpenerConfig{Client: srv.Client()})
	ctx := context.Background()

	if _, err := o.Open(ctx, "file://"+path); err != nil {
		t.Fatalf("open file: %v", err)
	}
	if _, err := o.Open(ctx, srv.URL+"/speak"); err != nil {
		t.Fatalf("open url: %v", err)
	}
	if _, err := o.Open(ctx, srv.URL+"/missing"); err == nil {
		t.Fatalf("expected error for 404")
	}
	if _, err := o.Open(ctx, filepath.Join(dir, "nope.wav")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := o.Open(ctx, YouTubePrefix); err == nil {
		t.Fatalf("expected error for empty video id")
	}

	small := NewOpener(OpenerConfig{Client: srv.Client(), MaxBytes: 8})
	if _, err := small.Open(ctx, srv.URL+"/speak"); err == nil {
		t.Fatalf("expected size cap to reject the clip")
	}
}

const pactlSample = `Sink Input #42
	Driver: protocol-native.c
	Volume: front-left: 65536 / 100% / 0.00 dB,   front-right: 65536 / 100% / 0.00 dB
	Properties:
		application.name = "Firefox"
Sink Input #43
	Volume: front-left: 32768 /  50% / -18.06 dB
	Properties:
		application.name = "voxcast"
Sink Input #bogus
	Volume: 10%
`

func TestParseSinkInputs(t *testing.T) {
	got := parseSinkInputs(pactlSample)
	if len(got) != 2 {
		t.Fatalf("expected 2 sink inputs, got %+v", got)
	}
	if got[0] != (sinkInput{ID: 42, Volume: 100, AppName: "Firefox"}) {
		t.Fatalf("unexpected first input %+v", got[0])
	}
	if got[1].AppName != "voxcast" || got[1].Volume != 50 {
		t.Fatalf("unexpected second input %+v", got[1])
	}
}

func TestDuckerDuckAndRestore(t *testing.T) {
	d := NewDucker([]string{"voxcast"}, 10)

	var sets []string
	d.run = func(_ context.Context, args ...string) ([]byte, error) {
		if args[0] == "list" {
			return []byte(pactlSample), nil
		}
		sets = append(sets, strings.Join(args[1:], " "))
		return nil, nil
	}

	ctx := context.Background()
	if err := d.Duck(ctx, 0.3, 0); err != nil {
		t.Fatalf("duck: %v", err)
	}
	if len(sets) != 1 || sets[0] != "42 30%" {
		t.Fatalf("expected only Firefox ducked to 30%%, got %v", sets)
	}

	// Second duck is a no-op.
	if err := d.Duck(ctx, 0.3, 0); err != nil || len(sets) != 1 {
		t.Fatalf("repeated duck should do nothing, got %v (%v)", sets, err)
	}

	if err := d.Restore(ctx, 20*time.Millisecond); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if last := sets[len(sets)-1]; last != "42 100%" {
		t.Fatalf("expected restore to 100%%, got %q", last)
	}
}
