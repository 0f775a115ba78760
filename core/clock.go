package orchestration

import "time"

type timer interface {
	Stop() bool
}

// afterFunc schedules f on its own goroutine after d, like [time.AfterFunc].
type afterFunc func(d time.Duration, f func()) timer

func realAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}
