package ports

import (
	"reflect"
	"time"
)

// Clock abstracts wall-clock access so retry backoff, cache TTLs and
// circuit-breaker windows can be driven deterministically in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After waits for the duration to elapse and then sends the current
	// time on the returned channel.
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the production Clock backed by the time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// ClockOrSystem returns c, or SystemClock when c is nil — including a nil
// pointer hiding inside the interface, which a plain == nil check misses.
func ClockOrSystem(c Clock) Clock {
	if c == nil {
		return SystemClock{}
	}
	if v := reflect.ValueOf(c); v.Kind() == reflect.Ptr && v.IsNil() {
		return SystemClock{}
	}
	return c
}

// ClockFunc adapts a plain func to the Clock interface; After falls through
// to the real timer.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time                         { return f() }
func (f ClockFunc) After(d time.Duration) <-chan time.Time { return time.After(d) }
