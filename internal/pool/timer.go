// Package pool recycles timers used by short-lived watchdogs.
package pool

import (
	"sync"
	"time"
)

var timers = sync.Pool{}

// AcquireTimer returns a timer that fires after d. Release it with ReleaseTimer once the
// caller no longer selects on its channel.
func AcquireTimer(d time.Duration) *time.Timer {
	t, ok := timers.Get().(*time.Timer)
	if !ok {
		return time.NewTimer(d)
	}

	t.Reset(d)

	return t
}

// ReleaseTimer stops t and puts it back. t must not be used afterwards.
func ReleaseTimer(t *time.Timer) {
	stopTimer(t)
	timers.Put(t)
}

// stopTimer stops t and discards a pending tick so a later Reset starts clean.
func stopTimer(t *time.Timer) {
	if t.Stop() {
		return
	}

	select {
	case <-t.C:
	default:
	}
}
