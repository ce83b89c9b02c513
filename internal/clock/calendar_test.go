package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalendar_DayOfWeek(t *testing.T) {
	cal := NewCalendar(time.UTC)

	// 2025-03-03 is a Monday.
	monday := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		assert.Equal(t, i, cal.DayOfWeek(monday.AddDate(0, 0, i)))
	}
}

func TestCalendar_Hour(t *testing.T) {
	cal := NewCalendar(time.UTC)
	assert.Equal(t, 0, cal.Hour(time.Date(2025, 3, 3, 0, 59, 0, 0, time.UTC)))
	assert.Equal(t, 23, cal.Hour(time.Date(2025, 3, 3, 23, 0, 0, 0, time.UTC)))
}

func TestCalendar_UsesLocation(t *testing.T) {
	plus7 := time.FixedZone("ICT", 7*3600)
	cal := NewCalendar(plus7)

	// Sunday 20:00 UTC is Monday 03:00 at +07:00.
	instant := time.Date(2025, 3, 2, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, 3, cal.Hour(instant))
	assert.Equal(t, 0, cal.DayOfWeek(instant))

	assert.Equal(t, 6, NewCalendar(time.UTC).DayOfWeek(instant))
}

func TestFixedClock(t *testing.T) {
	at := time.Date(2025, 1, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	c := NewFixed(at)
	assert.True(t, c.Now().Equal(at))
	assert.Equal(t, time.UTC, c.Now().Location())
}
