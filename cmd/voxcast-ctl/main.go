package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	cli "github.com/spf13/pflag"

	"voxcast/internal/action"
	"voxcast/internal/ipc"
)

const usage = `usage: voxcast-ctl [--socket path] <command> [arg...]

commands:
  stop | pause | resume   control the current media
  connect | kick          attach or detach the voice output
  volume <level>          e.g. 40, 40%, 0.4, up, down, mute
  play <query>            search and play media, skipping the classifier
  effect <query>          play a short sound effect
  post <text>             post text to the configured channels
  enqueue <json>          queue a raw JSON request
  say <text>              run text through the pipeline as if spoken
  status                  print the playback state
`

func main() {
	socket := cli.StringP("socket", "s", ipc.SocketPath, "Control socket path")
	shuffle := cli.Bool("shuffle", false, "Shuffle search results (play only)")
	cli.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	cli.Parse()

	args := cli.Args()
	if len(args) == 0 {
		cli.Usage()
		os.Exit(2)
	}

	msg, err := message(args[0], strings.Join(args[1:], " "), *shuffle)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(2)
	}

	reply, err := ipc.Send(*socket, msg)
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("voxcast-daemon not running:"), err)
		os.Exit(1)
	}

	if !reply.OK {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), reply.Error)
		os.Exit(1)
	}
	if len(reply.Status) > 0 {
		fmt.Println(color.CyanString(string(reply.Status)))
		return
	}
	fmt.Println(color.GreenString("ok"))
}

// message turns the command line into a control message. The request
// shortcuts are sent as enqueue with an encoded action.
func message(cmd, arg string, shuffle bool) (ipc.ControlMessage, error) {
	var r *action.Request
	switch cmd {
	case "play":
		r = action.New(action.Media)
		r.Query = arg
		r.Shuffle = shuffle
	case "effect":
		r = action.New(action.SoundEffect)
		r.Query = arg
	case "post":
		r = action.New(action.Post)
		r.Text = arg
	default:
		return ipc.ControlMessage{Cmd: cmd, Arg: arg}, nil
	}

	if arg == "" {
		return ipc.ControlMessage{}, fmt.Errorf("%s needs an argument", cmd)
	}
	data, err := action.Encode(r)
	if err != nil {
		return ipc.ControlMessage{}, err
	}
	return ipc.ControlMessage{Cmd: ipc.CmdEnqueue, Arg: string(data)}, nil
}
