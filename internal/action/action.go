// Package action defines the typed requests produced by classification and
// consumed by the dispatch loop.
package action

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind discriminates what a Request asks for.
type Kind int

const (
	NoTool Kind = iota
	Knowledge
	Media
	SoundEffect
	Post
	PostWithMedia
	VolumeControl

	// Reply is a spoken reply authored by the daemon itself. Model output
	// never decodes to it.
	Reply

	// Connect and Disconnect attach and detach the voice output. They come
	// from the control socket only.
	Connect
	Disconnect
)

var kindNames = map[Kind]string{
	NoTool:        "no_tool",
	Knowledge:     "knowledge",
	Media:         "media",
	SoundEffect:   "sound_effect",
	Post:          "post",
	PostWithMedia: "post_with_media",
	VolumeControl: "volume_control",
	Reply:         "reply",
	Connect:       "connect",
	Disconnect:    "disconnect",
}

// daemonKinds are accepted when decoding requests the daemon serialized, but
// never from the classifier.
var daemonKinds = map[string]Kind{
	"reply":      Reply,
	"connect":    Connect,
	"disconnect": Disconnect,
}

// classifierKinds are the names the completion model is allowed to answer
// with, plus the legacy tool names it was trained on.
var classifierKinds = map[string]Kind{
	"no_tool":         NoTool,
	"knowledge":       Knowledge,
	"wolfram_alpha":   Knowledge,
	"media":           Media,
	"youtube":         Media,
	"sound_effect":    SoundEffect,
	"post":            Post,
	"discord_post":    Post,
	"post_with_media": PostWithMedia,
	"volume_control":  VolumeControl,
	"volume":          VolumeControl,
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a classifier discriminator to a Kind. Anything it does not
// recognize is NoTool.
func ParseKind(s string) Kind {
	if k, ok := classifierKinds[strings.ToLower(strings.TrimSpace(s))]; ok {
		return k
	}
	return NoTool
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts every kind name, including the daemon's own, since it
// is used for requests the daemon itself serialized.
func (k *Kind) UnmarshalText(b []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(b)))
	if dk, ok := daemonKinds[s]; ok {
		*k = dk
		return nil
	}
	*k = ParseKind(s)
	return nil
}

// TransportOp controls an already playing stream.
type TransportOp int

const (
	None TransportOp = iota
	Stop
	Pause
	Resume
)

var transportNames = [...]string{"none", "stop", "pause", "resume"}

func (t TransportOp) String() string {
	if int(t) >= 0 && int(t) < len(transportNames) {
		return transportNames[t]
	}
	return fmt.Sprintf("transport(%d)", int(t))
}

// ParseTransport returns None for anything that is not stop, pause or resume.
func ParseTransport(s string) TransportOp {
	s = strings.TrimSpace(s)
	for i, name := range transportNames {
		if strings.EqualFold(s, name) {
			return TransportOp(i)
		}
	}
	return None
}

func (t TransportOp) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TransportOp) UnmarshalText(b []byte) error {
	*t = ParseTransport(string(b))
	return nil
}

// Request is one classified intent. It is not modified after construction.
type Request struct {
	ID        string      `json:"id"`
	Kind      Kind        `json:"kind"`
	Query     string      `json:"query,omitempty"`
	Text      string      `json:"text,omitempty"`
	Transport TransportOp `json:"transport,omitempty"`
	Shuffle   bool        `json:"shuffle,omitempty"`
	Utterance string      `json:"utterance,omitempty"`
}

// New returns a request of kind k with a fresh ID.
func New(k Kind) *Request {
	return &Request{ID: uuid.NewString(), Kind: k}
}

// Transport builds a media transport control request.
func Transport(op TransportOp) *Request {
	r := New(Media)
	r.Transport = op
	return r
}

// Volume builds a volume request; level is parsed by the dispatcher.
func Volume(level string) *Request {
	r := New(VolumeControl)
	r.Query = level
	return r
}

// SpokenReply builds a Reply request speaking text.
func SpokenReply(text string) *Request {
	r := New(Reply)
	r.Text = text
	return r
}

// Actionable reports whether the request can have any effect. A transport
// control is only valid on a media request carrying neither query nor text;
// session controls need nothing; everything else needs a query or a text.
func (r *Request) Actionable() bool {
	if r == nil || r.Kind == NoTool {
		return false
	}
	if r.Kind == Connect || r.Kind == Disconnect {
		return r.Transport == None
	}
	if r.Transport != None {
		return r.Kind == Media && r.Query == "" && r.Text == ""
	}
	return r.Query != "" || r.Text != ""
}

func (r *Request) String() string {
	if r == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(r.Kind.String())
	if r.Transport != None {
		fmt.Fprintf(&b, " transport=%s", r.Transport)
	}
	if r.Query != "" {
		fmt.Fprintf(&b, " query=%q", r.Query)
	}
	if r.Text != "" {
		fmt.Fprintf(&b, " text=%q", r.Text)
	}
	if r.Shuffle {
		b.WriteString(" shuffle")
	}
	return b.String()
}
