// Package clock provides an injectable monotonic millisecond time source.
//
// The kernel never calls time.Now() directly outside this package: every
// timestamp the kernel persists or compares is a Clock.NowMillis() reading,
// so tests can freeze and advance time deterministically (claim expiry is
// lazy and only observable through a pruning operation).
package clock

import "time"

// Clock yields the current wall-clock time in milliseconds since the Unix
// epoch. Implementations must be safe for concurrent use.
type Clock interface {
	NowMillis() int64
}

// System is the production Clock backed by time.Now().
type System struct{}

// NowMillis returns the current wall-clock time in milliseconds.
func (System) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// New returns the production system clock.
func New() Clock {
	return System{}
}
