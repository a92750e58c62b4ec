package util

import "time"

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same UTC calendar date.
func SameDay(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}

// MonthEnd returns the last calendar day of t's month (UTC).
func MonthEnd(t time.Time) time.Time {
	d := Day(t)
	return time.Date(d.Year(), d.Month()+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}

// IsMonthEnd reports whether t is the last calendar day of its month.
func IsMonthEnd(t time.Time) bool {
	return Day(t).Equal(MonthEnd(t))
}

// WeekFriday returns the Friday of t's Monday-Sunday week (UTC).
func WeekFriday(t time.Time) time.Time {
	d := Day(t)
	offset := (int(time.Friday) - int(d.Weekday()) + 7) % 7
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		offset -= 7
	}
	return d.AddDate(0, 0, offset)
}
