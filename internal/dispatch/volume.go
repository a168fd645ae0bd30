package dispatch

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const volumeStep = 0.1

// ParseVolume turns a spoken or typed volume argument into a level in
// [0,1], relative to current where the argument is relative.
//
// Accepted: up/louder, down/quieter/lower, mute/off, max/full, half,
// a percentage ("40%", "40") or a fraction ("0.4"). A bare number with a
// decimal point is always a fraction, so "1.5" clamps to full volume.
func ParseVolume(arg string, current float64) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(arg))
	switch s {
	case "up", "louder", "raise", "increase":
		return clampLevel(current + volumeStep), nil
	case "down", "quieter", "lower", "softer", "decrease":
		return clampLevel(current - volumeStep), nil
	case "mute", "off", "silent", "zero":
		return 0, nil
	case "max", "full", "maximum", "loud":
		return 1, nil
	case "half":
		return 0.5, nil
	case "":
		return 0, fmt.Errorf("empty volume")
	}

	percent := false
	for _, suffix := range []string{"%", "percent"} {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
			percent = true
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("bad volume %q", arg)
	}
	if percent || (v > 1 && !strings.Contains(s, ".")) {
		v /= 100
	}
	return clampLevel(v), nil
}

func clampLevel(v float64) float64 {
	return math.Round(math.Max(0, math.Min(1, v))*100) / 100
}
