// Package clock compares monotonic timestamps supplied by the caller and
// reports how much time remains until a deadline.
//
// The core never calls a wall clock itself; every Time value here
// originates from the caller's get-time callback, so this package only
// ever does arithmetic on (seconds, nanoseconds) pairs.
package clock

const billion = 1_000_000_000

// Time is a monotonic timestamp split into whole seconds and a nanosecond
// remainder in [0, 1e9).
type Time struct {
	Secs  uint32
	Nsecs uint32
}

// Before reports whether t occurs strictly before u.
func (t Time) Before(u Time) bool {
	if t.Secs != u.Secs {
		return t.Secs < u.Secs
	}
	return t.Nsecs < u.Nsecs
}

// After reports whether t occurs strictly after u.
func (t Time) After(u Time) bool {
	return u.Before(t)
}

// Plus returns the deadline reached when secs whole seconds elapse after t.
// The caller is responsible for treating secs == 0 as "disabled" before
// calling Plus; Plus itself just returns t unchanged in that case.
func (t Time) Plus(secs uint32) Time {
	return Time{Secs: t.Secs + secs, Nsecs: t.Nsecs}
}

// Remaining returns the non-negative duration left until deadline, measured
// from now, and reports whether the deadline has already elapsed. When
// elapsed is true the returned Time is always the zero value.
func Remaining(deadline, now Time) (remaining Time, elapsed bool) {
	if !now.Before(deadline) {
		return Time{}, true
	}

	secs := deadline.Secs - now.Secs
	nsecs := int64(deadline.Nsecs) - int64(now.Nsecs)
	if nsecs < 0 {
		nsecs += billion
		secs--
	}
	return Time{Secs: secs, Nsecs: uint32(nsecs)}, false
}
