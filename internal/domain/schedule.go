package domain

import (
	"fmt"
	"time"
)

// StartsAt combines an event date with its "HH:MM" (or "HH:MM:SS")
// start time in loc. Only the calendar fields of date are used, so a
// date scanned in UTC and one built in loc yield the same instant.
func StartsAt(date time.Time, startTime string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}

	layout := "15:04"
	if len(startTime) == len("15:04:05") {
		layout = "15:04:05"
	}

	clock, err := time.Parse(layout, startTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("domain.StartsAt: invalid start time %q: %w", startTime, err)
	}

	return time.Date(
		date.Year(), date.Month(), date.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0,
		loc,
	), nil
}

// HoursUntil returns the fractional hours from now until start,
// negative once start has passed. No rounding is applied.
func HoursUntil(start, now time.Time) float64 {
	return start.Sub(now).Hours()
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// BillingPeriod formats t as the "YYYY-MM" period key.
func BillingPeriod(t time.Time) string {
	return t.Format("2006-01")
}

// ParseBillingPeriod validates a "YYYY-MM" period key.
func ParseBillingPeriod(s string) (string, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return "", fmt.Errorf("domain.ParseBillingPeriod: invalid period %q", s)
	}
	return BillingPeriod(t), nil
}
