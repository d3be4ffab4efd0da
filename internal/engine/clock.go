package engine

import "time"

// Clock supplies the current time. The engine never reads the wall clock
// directly so tests control every time-based decision.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by the wall clock.
func SystemClock() Clock { return systemClock{} }

// Scheduler schedules callbacks after a delay. The pacing ticks and the
// notification timeout run through it, so tests drive them deterministically
// without real wall-clock delay.
type Scheduler interface {
	// AfterFunc runs fn after d on some goroutine. The returned function
	// cancels the callback if it has not fired yet.
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

type systemScheduler struct{}

func (systemScheduler) AfterFunc(d time.Duration, fn func()) func() {
	timer := time.AfterFunc(d, fn)
	return func() { timer.Stop() }
}

// SystemScheduler returns a Scheduler backed by time.AfterFunc.
func SystemScheduler() Scheduler { return systemScheduler{} }
