// Package bus connects to the hub: a websocket broker shards use to exchange
// JSON messages.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	KindUtterance = "utterance"
	KindPost      = "post"
	KindAction    = "action" // content is a JSON encoded action request

	// Broadcast addresses every shard.
	Broadcast = "*"
)

type Message struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Kind     string `json:"kind"`
	Content  string `json:"content"`
	ImageURL string `json:"image_url,omitempty"`
}

type Config struct {
	URL    string
	Shard  string        // our name on the hub
	Reconn time.Duration // pause between reconnect attempts
	Dialer *ws.Dialer
}

// Conn is a hub connection that redials whenever it drops. Writes are
// serialized; reads happen only inside Run.
type Conn struct {
	cfg Config

	mu   sync.Mutex // guards conn and writes
	conn *ws.Conn
}

// Dial connects to the hub once. Later drops are handled by Run.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.Dialer == nil {
		cfg.Dialer = ws.DefaultDialer
	}
	if cfg.Reconn <= 0 {
		cfg.Reconn = 2 * time.Second
	}

	log.Debug("Dialing hub", "url", cfg.URL, "shard", cfg.Shard)
	conn, _, err := cfg.Dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub %s: %w", cfg.URL, err)
	}
	log.Info("Connected to hub", "url", cfg.URL)

	return &Conn{cfg: cfg, conn: conn}, nil
}

// Send stamps m with our shard name and writes it.
func (c *Conn) Send(m Message) error {
	m.From = c.cfg.Shard
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return errors.New("hub: not connected")
	}
	log.Debug("Write hub", "msg", string(data))
	return c.conn.WriteMessage(ws.TextMessage, data)
}

// Run reads messages addressed to us (or broadcast) and hands them to emit,
// redialing after every failure until ctx is done.
func (c *Conn) Run(ctx context.Context, emit func(Message)) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		conn := c.current()
		if conn == nil {
			if err := c.redial(ctx); err != nil {
				return err
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isClosed(err) {
				log.Warn("Hub closed the connection", "url", c.cfg.URL)
			} else {
				log.Error("Failed to read hub", "err", err)
			}
			c.drop(conn)
			continue
		}

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			log.Warn("Failed to parse hub message", "msg", string(data), "err", err)
			continue
		}
		if !c.addressed(m) {
			continue
		}
		log.Debug("Read hub", "from", m.From, "kind", m.Kind)
		emit(m)
	}
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Conn) addressed(m Message) bool {
	if m.From == c.cfg.Shard && m.From != "" {
		return false
	}
	return m.To == "" || m.To == Broadcast || m.To == c.cfg.Shard
}

func (c *Conn) current() *ws.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Conn) drop(conn *ws.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		_ = conn.Close()
		c.conn = nil
	}
}

func (c *Conn) redial(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.Reconn):
		}

		conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			log.Debug("Hub reconnect failed", "err", err)
			continue
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			_ = conn.Close()
			return ctx.Err()
		}
		c.conn = conn
		c.mu.Unlock()
		log.Info("Reconnected to hub", "url", c.cfg.URL)
		return nil
	}
}

func isClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
