package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/faiface/beep"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

// Decode turns a complete encoded clip into a Track. The container is sniffed
// from its magic bytes; hint (a file name, URL path or content type) is only
// consulted when sniffing is inconclusive.
func Decode(data []byte, hint string) (*Track, error) {
	if len(data) == 0 {
		return nil, errors.New("decode: empty input")
	}

	switch sniff(data, hint) {
	case "wav":
		return decodeWAV(bytes.NewReader(data))
	case "ogg":
		if t, err := decodeVorbis(bytes.NewReader(data)); err == nil {
			return t, nil
		}
		t, err := decodeOpus(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("cannot decode ogg as vorbis or opus: %w", err)
		}
		return t, nil
	case "mp3":
		return decodeMP3(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unsupported format (hint %q)", hint)
	}
}

func sniff(data []byte, hint string) string {
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		return "wav"
	case bytes.HasPrefix(data, []byte("OggS")):
		return "ogg"
	case bytes.HasPrefix(data, []byte("ID3")):
		return "mp3"
	case len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	}

	hint = strings.ToLower(hint)
	switch {
	case strings.Contains(hint, "wav"):
		return "wav"
	case strings.Contains(hint, "ogg"), strings.Contains(hint, "opus"), filepath.Ext(hint) == ".oga":
		return "ogg"
	case strings.Contains(hint, "mpeg"), strings.Contains(hint, "mp3"):
		return "mp3"
	}
	return ""
}

func decodeWAV(r io.ReadSeeker) (*Track, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	if pb == nil || len(pb.Data) == 0 {
		return nil, errors.New("empty wav")
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	ch, sr := 1, 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}

	return pcmTrack(intsToFloat32(pb.Data, bd), ch, sr), nil
}

func decodeMP3(r io.Reader) (*Track, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("read mp3: %w", err)
	}

	// go-mp3 always yields 16-bit little-endian stereo.
	ints := make([]int16, len(raw)/2)
	for i := range ints {
		ints[i] = int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
	}

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	return pcmTrack(int16sToFloat32(ints), 2, sr), nil
}

func decodeVorbis(r io.Reader) (*Track, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("vorbis: %w", err)
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.New("invalid ogg/vorbis stream")
	}
	return pcmTrack(pcm, format.Channels, format.SampleRate), nil
}

// decodeOpus reads an Ogg/Opus stream, which always decodes at 48 kHz.
func decodeOpus(rs io.ReadSeeker) (*Track, error) {
	dec, err := popus.NewDecoder(rs)
	if err != nil {
		return nil, fmt.Errorf("opus: %w", err)
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	var (
		out []float32
		buf = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			out = append(out, int16sToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read opus: %w", err)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("empty opus stream")
	}
	return pcmTrack(out, ch, 48000), nil
}

func pcmTrack(samples []float32, channels, rate int) *Track {
	s := newPCMStreamer(samples, channels)
	return &Track{streamer: s, format: beepFormat(rate)}
}

func beepFormat(rate int) beep.Format {
	return beep.Format{
		SampleRate:  beep.SampleRate(rate),
		NumChannels: 2,
		Precision:   2,
	}
}

func intsToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1, 1))
	}
	return out
}

func int16sToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
