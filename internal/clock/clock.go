// Package clock supplies the current time to the collection so ids, mod
// times and review timers can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Fake is a manually advanced clock. Every call to Now moves it forward by
// Step, so consecutive timestamp ids never collide.
type Fake struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

// NewFake returns a clock starting at start that ticks one millisecond per read.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, Step: time.Millisecond}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.now
	f.now = f.now.Add(f.Step)
	return t
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Millis is the unix time in milliseconds, the unit ids are allocated in.
func Millis(c Clock) int64 {
	return c.Now().UnixMilli()
}

// Seconds is the unix time in seconds, the unit mod times are stored in.
func Seconds(c Clock) int64 {
	return c.Now().Unix()
}
