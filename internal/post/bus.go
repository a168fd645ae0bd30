package post

import (
	"context"

	"voxcast/internal/bus"
)

type sender interface {
	Send(m bus.Message) error
}

// Bus publishes posts on the hub for whichever shard relays chat.
type Bus struct {
	conn sender
	to   string
}

func NewBus(conn *bus.Conn, to string) *Bus {
	if to == "" {
		to = bus.Broadcast
	}
	return &Bus{conn: conn, to: to}
}

func (b *Bus) Post(_ context.Context, text, imageURL string) error {
	return b.conn.Send(bus.Message{
		To:       b.to,
		Kind:     bus.KindPost,
		Content:  text,
		ImageURL: imageURL,
	})
}
