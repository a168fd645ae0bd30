// Package ipc is the daemon's control socket: one JSON request and one JSON
// reply per connection.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"time"
)

const SocketPath = "/tmp/voxcast.sock"

const (
	CmdStop   = "stop"
	CmdPause  = "pause"
	CmdResume = "resume"
	CmdVolume = "volume"
	CmdSay    = "say"
	CmdStatus = "status"

	CmdConnect = "connect"
	CmdKick    = "kick"

	// CmdEnqueue carries a JSON encoded action request in Arg.
	CmdEnqueue = "enqueue"
)

type ControlMessage struct {
	Cmd string `json:"cmd"`
	Arg string `json:"arg,omitempty"`
}

type Reply struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Status json.RawMessage `json:"status,omitempty"`
}

type Handler func(ControlMessage) Reply

// Server accepts control connections on a unix socket.
type Server struct {
	path    string
	ln      net.Listener
	handler Handler
}

// Listen binds path, replacing a stale socket left by a previous run.
func Listen(path string, handler Handler) (*Server, error) {
	if path == "" {
		path = SocketPath
	}
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &Server{path: path, ln: ln, handler: handler}, nil
}

// Serve accepts connections until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.ln.Close() })
	defer stop()
	defer os.Remove(s.path)

	log.Info("Control socket ready", "path", s.path)
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			log.Warn("Accept failed", "err", err)
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error {
	return s.ln.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Debug("Bad control message", "err", err)
		_ = json.NewEncoder(conn).Encode(Reply{Error: "bad request"})
		return
	}

	log.Debug("Control command", "cmd", msg.Cmd, "arg", msg.Arg)
	if err := json.NewEncoder(conn).Encode(s.handler(msg)); err != nil {
		log.Debug("Failed to write control reply", "err", err)
	}
}

// Send delivers msg to the daemon listening on path and waits for its reply.
func Send(path string, msg ControlMessage) (Reply, error) {
	if path == "" {
		path = SocketPath
	}
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}

	var r Reply
	if err := json.NewDecoder(conn).Decode(&r); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}
	return r, nil
}
