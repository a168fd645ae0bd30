package nlu

import (
	"context"
	"strings"
)

// DefaultPersona is the system prompt used for spoken replies.
const DefaultPersona = `
You are a slightly disturbing AI. You want to freak people out and make them
laugh. Your name is Billy and you must write a reply to what someone just said
to you. Feel free to use gamer lingo and popular cultural references.

Keep it short and to the point. Add humor or wit as often as possible. If there
is Added Info, make sure to include it in your reply.

Write the way a person speaks: your reply is read out by text-to-speech, so no
emoji, no markdown, no lists.
`

// Author writes the spoken replies.
type Author struct {
	model   Completer
	persona string
}

func NewAuthor(model Completer, persona string) *Author {
	if strings.TrimSpace(persona) == "" {
		persona = DefaultPersona
	}
	return &Author{model: model, persona: persona}
}

// Write answers utterance in character. addedInfo, when not empty, is a fact
// the reply has to include (e.g. a knowledge answer).
func (a *Author) Write(ctx context.Context, utterance, addedInfo string) (string, error) {
	var b strings.Builder
	b.WriteString("Query: ")
	b.WriteString(utterance)
	if addedInfo != "" {
		b.WriteString("\nAdded Info: ")
		b.WriteString(addedInfo)
	}

	reply, err := a.model.Complete(ctx, a.persona, b.String())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}
