package listen

import (
	"strings"
	"unicode"
)

// DefaultWakePhrases are used when none are configured.
var DefaultWakePhrases = []string{"okay billy", "hey billy"}

// Gate decides which utterances are addressed to us.
type Gate struct {
	phrases []string
}

// NewGate builds a gate for phrases. With no phrases it uses
// DefaultWakePhrases.
func NewGate(phrases ...string) *Gate {
	if len(phrases) == 0 {
		phrases = DefaultWakePhrases
	}
	g := &Gate{}
	for _, p := range phrases {
		if n := normalize(p); n != "" {
			g.phrases = append(g.phrases, n)
		}
	}
	return g
}

// Match reports whether utterance contains a wake phrase. Case, punctuation
// and digits are ignored, so "Okay, Billy!" matches "okay billy".
func (g *Gate) Match(utterance string) bool {
	if g == nil {
		return true
	}
	line := normalize(utterance)
	for _, p := range g.phrases {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}

func (g *Gate) Phrases() []string {
	if g == nil {
		return nil
	}
	return append([]string(nil), g.phrases...)
}

// normalize lower-cases s, drops everything that is not a letter or a space
// and collapses runs of spaces.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
