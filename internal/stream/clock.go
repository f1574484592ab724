package stream

import "time"

// timerHandle is a cancelable scheduled callback.
type timerHandle interface {
	// Stop cancels the timer; it reports whether the callback was prevented
	// from running.
	Stop() bool
}

// clock abstracts timer scheduling so the state machine can be driven by a
// fake clock in tests.
type clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) timerHandle
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) timerHandle {
	return time.AfterFunc(d, fn)
}
