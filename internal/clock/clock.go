package clock

import "time"

// Clock is the time source for ticket timestamps. Readings are UTC.
type Clock interface {
	Now() time.Time
}

// Func turns any func() time.Time into a Clock.
type Func func() time.Time

func (f Func) Now() time.Time {
	return f().UTC()
}

// NewSystem reads the wall clock.
func NewSystem() Clock {
	return Func(time.Now)
}
