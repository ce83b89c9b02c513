package clock

import "time"

// Calendar derives the wall-clock features the wait-time model was trained
// on. Instants are converted to the calendar's location first.
type Calendar struct {
	loc *time.Location
}

func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.Local
	}
	return Calendar{loc: loc}
}

// Hour returns the local hour in [0,23].
func (c Calendar) Hour(t time.Time) int {
	return t.In(c.location()).Hour()
}

// DayOfWeek returns the local weekday in [0,6] with Monday=0, Sunday=6.
func (c Calendar) DayOfWeek(t time.Time) int {
	return (int(t.In(c.location()).Weekday()) + 6) % 7
}

func (c Calendar) location() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
}
