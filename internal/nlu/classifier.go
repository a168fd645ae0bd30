package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	log "log/slog"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"voxcast/internal/action"
)

const classifierPrompt = `
Your job is to decide which tool is most appropriate to respond to the user.
Answer with ONE JSON object and nothing else. No markdown, no explanations.

TOOLS ("tool" key):
- "no_tool"          nothing below fits; simple questions and chit-chat
- "knowledge"        hard math, conversions, or facts that change (weather, prices)
- "media"            play music or a video, or control what is already playing
- "sound_effect"     play a short sound effect ("airhorn", "sad trombone")
- "post"             post a message or a meme to the chat
- "post_with_media"  post a message together with a GIF
- "volume_control"   make playback louder, quieter, mute, or set a level

KEYS:
- "tool":      required, one of the tools above
- "query":     search terms for knowledge, media, sound_effect, the GIF of
               post/post_with_media, or the level for volume_control
               ("up", "down", "mute", "max", "40%")
- "text":      literal text to post
- "transport": only for media that controls the current track:
               "stop", "pause" or "resume". Never together with a query.
- "shuffle":   true when the user wants something random instead of the best match

Knowledge is expensive. You know lots of simple facts already; answer those
with no_tool.

Example outputs:
{"tool": "no_tool"}
{"tool": "media", "query": "lofi beats", "shuffle": false}
{"tool": "media", "transport": "pause"}
{"tool": "post_with_media", "text": "GG everyone", "query": "victory dance"}
`

// Classifier maps utterances to action requests. It never fails: anything it
// cannot make sense of becomes a NoTool request.
type Classifier struct {
	model Completer
}

func NewClassifier(model Completer) *Classifier {
	return &Classifier{model: model}
}

func (c *Classifier) Classify(ctx context.Context, utterance string) *action.Request {
	answer, err := c.model.Complete(ctx, classifierPrompt, utterance)
	if err != nil {
		log.Warn("Classifier completion failed", "err", err)
		return fallback(utterance)
	}

	req, err := parseAnswer(answer)
	if err != nil {
		log.Warn("Unparseable classifier answer", "err", err, "answer", answer)
		return fallback(utterance)
	}
	req.Utterance = utterance

	log.Debug("Classified", "id", req.ID, "request", req.String())
	return req
}

func fallback(utterance string) *action.Request {
	r := action.New(action.NoTool)
	r.Utterance = utterance
	return r
}

// parseAnswer decodes the first JSON object in a model answer. Only the kind
// discriminator is normalised; every other string is kept verbatim.
func parseAnswer(answer string) (*action.Request, error) {
	fields, err := decodeObject(extractObject(answer))
	if err != nil {
		return nil, err
	}

	kindName := stringField(fields, "tool")
	if kindName == "" {
		kindName = stringField(fields, "kind")
	}

	r := action.New(action.ParseKind(kindName))
	if r.Kind == action.NoTool {
		return r, nil
	}

	r.Query = stringField(fields, "query")
	r.Text = stringField(fields, "text")
	r.Shuffle = boolField(fields, "shuffle")

	if r.Kind == action.Media {
		r.Transport = action.ParseTransport(stringField(fields, "transport"))
		if r.Transport != action.None {
			r.Query, r.Text, r.Shuffle = "", "", false
		}
	}
	return r, nil
}

func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

func decodeObject(s string) (map[string]any, error) {
	var fields map[string]any
	err := json.Unmarshal([]byte(s), &fields)
	if _, ok := err.(*json.SyntaxError); ok {
		fixed, rerr := jsonrepair.JSONRepair(s)
		if rerr != nil {
			return nil, fmt.Errorf("repair json: %w", rerr)
		}
		err = json.Unmarshal([]byte(fixed), &fields)
	}
	if err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("not a json object: %q", s)
	}
	return fields, nil
}

func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// boolField accepts true/false as well as their string spellings.
func boolField(fields map[string]any, key string) bool {
	switch v := fields[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	}
	return false
}
