// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package wallclock

import (
	"context"
	"time"
)

type (
	// WallClock abstracts the subset of packages time and context that the
	// library uses for time-based behavior.
	WallClock interface {
		WithTimeoutCause(
			parent context.Context,
			timeout time.Duration,
			cause error,
		) (context.Context, context.CancelFunc)
		After(d time.Duration) <-chan time.Time
		NewTimer(d time.Duration) Timer
		Now() time.Time
	}

	// Timer abstracts the functionality of time.Timer.
	Timer interface {
		C() <-chan time.Time
		Reset(d time.Duration) bool
		Stop() bool
	}

	wallClock struct{}

	timer struct{ *time.Timer }
)

// Instance is the WallClock singleton used for all indirect references to
// packages time and context. Test code may replace it to control apparent
// time.
var Instance WallClock = wallClock{}

func (wallClock) WithTimeoutCause(
	parent context.Context,
	timeout time.Duration,
	cause error,
) (context.Context, context.CancelFunc) {
	return context.WithTimeoutCause(parent, timeout, cause)
}

func (wallClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (wallClock) NewTimer(d time.Duration) Timer {
	return timer{Timer: time.NewTimer(d)}
}

func (wallClock) Now() time.Time {
	return time.Now()
}

func (t timer) C() <-chan time.Time {
	return t.Timer.C
}
