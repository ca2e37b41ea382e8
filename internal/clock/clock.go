// Package clock provides the service's single source of time.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock yields the current wall time in milliseconds since the epoch.
// All expiry math in the service goes through this interface.
type Clock interface {
	NowMillis() int64
}

// System is the real clock.
type System struct{}

func (System) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Fake is a settable clock for tests.
type Fake struct {
	now atomic.Int64
}

// NewFake creates a fake clock pinned to the given instant.
func NewFake(nowMs int64) *Fake {
	f := &Fake{}
	f.now.Store(nowMs)
	return f
}

func (f *Fake) NowMillis() int64 { return f.now.Load() }

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.now.Add(d.Milliseconds())
}

// Set pins the fake clock to nowMs.
func (f *Fake) Set(nowMs int64) { f.now.Store(nowMs) }
