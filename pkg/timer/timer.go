// Package timer provides the monotonic clock the kernel reads for get_time,
// task start times and run-time accounting.
package timer

import (
	"sync"
	"time"
)

// Clock is a monotonic microsecond counter.
type Clock interface {
	NowMicros() uint64
}

// Millis returns the clock value in milliseconds.
func Millis(c Clock) uint64 { return c.NowMicros() / 1000 }

// Split returns the clock value as whole seconds and the remaining
// microseconds.
func Split(c Clock) (sec, usec uint64) {
	us := c.NowMicros()
	return us / 1_000_000, us % 1_000_000
}

// Monotonic counts microseconds since it was created. It is immune to wall
// clock adjustments.
type Monotonic struct {
	base time.Time
}

// NewMonotonic creates a clock starting at zero.
func NewMonotonic() *Monotonic {
	return &Monotonic{base: time.Now()}
}

// NowMicros returns the microseconds elapsed since creation.
func (m *Monotonic) NowMicros() uint64 {
	return uint64(time.Since(m.base) / time.Microsecond)
}

// Manual is a clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now uint64
}

// NewManual creates a manual clock at the given microsecond value.
func NewManual(start uint64) *Manual {
	return &Manual{now: start}
}

// NowMicros returns the current value.
func (m *Manual) NowMicros() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += uint64(d / time.Microsecond)
}
