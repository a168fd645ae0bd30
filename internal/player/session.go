package player

import (
	"fmt"
	"time"
)

type State int

const (
	Disconnected State = iota
	Idle
	Playing
	Paused
)

var stateNames = [...]string{"disconnected", "idle", "playing", "paused"}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// track is one stream owned by the session. A new play request always gets a
// new track; tracks are never reused.
type track struct {
	ref    string
	handle Handle
	gen    uint64
}

// session is the mutable playback state for one voice connection.
type session struct {
	state     State
	primary   *track
	interrupt *track

	// resumePrimary records whether primary was playing when the interrupt
	// began.
	resumePrimary bool
	deadline      time.Time
	timer         timer
}

// Snapshot is a read-only copy of the session, safe to hand to other
// goroutines.
type Snapshot struct {
	State           State      `json:"state"`
	Primary         string     `json:"primary,omitempty"`
	Interrupt       string     `json:"interrupt,omitempty"`
	RestoreDeadline *time.Time `json:"restore_deadline,omitempty"`
	Volume          float64    `json:"volume"`
}

func (s *session) snapshot(volume float64) Snapshot {
	snap := Snapshot{State: s.state, Volume: volume}
	if s.primary != nil {
		snap.Primary = s.primary.ref
	}
	if s.interrupt != nil {
		snap.Interrupt = s.interrupt.ref
	}
	if !s.deadline.IsZero() {
		d := s.deadline
		snap.RestoreDeadline = &d
	}
	return snap
}
