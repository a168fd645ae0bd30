package player

import "context"

// Stream is an opened audio source that has not started playing. A sink that
// accepts it takes ownership and closes it; when Play fails the caller still
// owns it.
type Stream interface {
	Close() error
}

// Opener resolves a source reference (URL, file, media id) into a Stream.
// It may block on network I/O.
type Opener interface {
	Open(ctx context.Context, ref string) (Stream, error)
}

// Sink is the voice output the session plays into.
type Sink interface {
	// Play starts s at the given volume. onEnd is called once, from any
	// goroutine, when the stream runs out on its own. It is not called after
	// Stop, and never while holding a lock that Handle methods take.
	Play(s Stream, volume float64, onEnd func()) (Handle, error)
}

// Handle controls one playing stream.
type Handle interface {
	Pause()
	Resume()
	Stop()
	SetVolume(level float64)
}

// Hooks observe interrupts. They are called with the session locked, from the
// dispatch goroutine or a deadline timer, and must not call back into the
// Player.
type Hooks interface {
	InterruptStarted()
	InterruptEnded()
}
