// Package timeutil provides wall-clock time algebra for prayer schedules.
// All values are local wall-clock times; nothing here converts to UTC.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
)

const secondsPerDay = 24 * 60 * 60

// Clock is a wall-clock point in a day, stored as seconds since midnight.
// Arithmetic wraps across midnight.
type Clock int

// Parse parses "HH:MM" or "HH:MM:SS". Anything else is rejected.
func Parse(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid clock string %q", s)
	}
	nums := make([]int, len(parts))
	for i, p := range parts {
		if len(p) != 2 {
			return 0, fmt.Errorf("invalid clock string %q", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid clock string %q", s)
		}
		nums[i] = n
	}
	h, m := nums[0], nums[1]
	sec := 0
	if len(nums) == 3 {
		sec = nums[2]
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("clock value out of range %q", s)
	}
	return Clock(h*3600 + m*60 + sec), nil
}

// MustParse parses a clock string and panics on error. For tests and constants.
func MustParse(s string) Clock {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) normalized() int {
	n := int(c) % secondsPerDay
	if n < 0 {
		n += secondsPerDay
	}
	return n
}

// Hour returns the hour component (0-23).
func (c Clock) Hour() int { return c.normalized() / 3600 }

// Minute returns the minute component (0-59).
func (c Clock) Minute() int { return (c.normalized() % 3600) / 60 }

// Second returns the second component (0-59).
func (c Clock) Second() int { return c.normalized() % 60 }

// String formats as "HH:MM". Seconds are truncated.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// StringSeconds formats as "HH:MM:SS".
func (c Clock) StringSeconds() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour(), c.Minute(), c.Second())
}

// Format12h formats as "h:MM AM/PM" for the 12-hour display preference.
func (c Clock) Format12h() string {
	h := c.Hour()
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d:%02d %s", h12, c.Minute(), suffix)
}

// AddMinutes adds (possibly negative) minutes, wrapping across midnight.
func (c Clock) AddMinutes(m int) Clock {
	return Clock((c.normalized() + m*60) % secondsPerDay).wrap()
}

// AddSeconds adds (possibly negative) seconds, wrapping across midnight.
func (c Clock) AddSeconds(s int) Clock {
	return Clock((c.normalized() + s) % secondsPerDay).wrap()
}

func (c Clock) wrap() Clock {
	return Clock(c.normalized())
}

// DiffSeconds returns c - other in seconds without wrapping. Used for the
// zone-similarity comparison where both values come from the same day.
func (c Clock) DiffSeconds(other Clock) int {
	return c.normalized() - other.normalized()
}

// AbsDiffSeconds returns the absolute difference in seconds without wrapping.
func (c Clock) AbsDiffSeconds(other Clock) int {
	d := c.DiffSeconds(other)
	if d < 0 {
		return -d
	}
	return d
}

// InWindow reports whether c falls inside [start, end). When end <= start the
// window wraps across midnight (e.g. Isha 20:00 to tomorrow's Fajr 05:00).
func (c Clock) InWindow(start, end Clock) bool {
	p, s, e := c.normalized(), start.normalized(), end.normalized()
	if s == e {
		return false
	}
	if s < e {
		return p >= s && p < e
	}
	return p >= s || p < e
}

// Before reports whether c is strictly earlier than other on the same day.
func (c Clock) Before(other Clock) bool { return c.normalized() < other.normalized() }

// After reports whether c is strictly later than other on the same day.
func (c Clock) After(other Clock) bool { return c.normalized() > other.normalized() }

// Midpoint returns the point halfway along the forward interval from c to
// other. If other is earlier on the clock face, the interval wraps midnight.
func (c Clock) Midpoint(other Clock) Clock {
	a, b := c.normalized(), other.normalized()
	span := b - a
	if span < 0 {
		span += secondsPerDay
	}
	return Clock((a + span/2) % secondsPerDay)
}

// FormatPtr renders an optional clock, using "N/A" for absent values.
// "N/A" is strictly a presentation convention; it never round-trips back
// through Parse.
func FormatPtr(c *Clock) string {
	if c == nil {
		return "N/A"
	}
	return c.String()
}

// Ptr returns a pointer to c. Convenience for optional fields.
func Ptr(c Clock) *Clock { return &c }
