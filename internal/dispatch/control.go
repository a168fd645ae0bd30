package dispatch

import (
	"encoding/json"
	"fmt"
	log "log/slog"

	"voxcast/internal/action"
	"voxcast/internal/ipc"
	"voxcast/internal/player"
)

// Status is the reply to a status command.
type Status struct {
	player.Snapshot
	Pending int `json:"pending"`
}

// Control answers the control socket. Anything that changes playback is
// queued like a spoken request; status only reads the player's snapshot.
// say hands free text to the listener that bypasses the wake gate.
func (d *Dispatcher) Control(say func(text string) bool) ipc.Handler {
	enqueue := func(r *action.Request) ipc.Reply {
		if !d.Enqueue(r) {
			return ipc.Reply{Error: "shutting down"}
		}
		return ipc.Reply{OK: true}
	}

	return func(msg ipc.ControlMessage) ipc.Reply {
		log.Debug("Control command", "cmd", msg.Cmd, "arg", msg.Arg)

		switch msg.Cmd {
		case ipc.CmdStop:
			return enqueue(action.Transport(action.Stop))
		case ipc.CmdPause:
			return enqueue(action.Transport(action.Pause))
		case ipc.CmdResume:
			return enqueue(action.Transport(action.Resume))
		case ipc.CmdConnect:
			return enqueue(action.New(action.Connect))
		case ipc.CmdKick:
			return enqueue(action.New(action.Disconnect))

		case ipc.CmdVolume:
			if msg.Arg == "" {
				return ipc.Reply{Error: "volume needs a level"}
			}
			return enqueue(action.Volume(msg.Arg))

		case ipc.CmdEnqueue:
			r, err := action.Decode([]byte(msg.Arg))
			if err != nil {
				return ipc.Reply{Error: err.Error()}
			}
			if !r.Actionable() {
				return ipc.Reply{Error: fmt.Sprintf("request has no effect: %s", r)}
			}
			return enqueue(r)

		case ipc.CmdSay:
			if msg.Arg == "" {
				return ipc.Reply{Error: "say needs text"}
			}
			if say == nil || !say(msg.Arg) {
				return ipc.Reply{Error: "busy"}
			}
			return ipc.Reply{OK: true}

		case ipc.CmdStatus:
			data, err := json.Marshal(Status{Snapshot: d.player.Snapshot(), Pending: d.Pending()})
			if err != nil {
				return ipc.Reply{Error: err.Error()}
			}
			return ipc.Reply{OK: true, Status: data}
		}
		return ipc.Reply{Error: fmt.Sprintf("unknown command %q", msg.Cmd)}
	}
}
