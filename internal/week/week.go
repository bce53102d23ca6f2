// Package week computes week boundaries and ledger week ids. All functions
// are pure; identical (offset, now) pairs always produce identical results,
// which is what makes per-offset caching sound.
package week

import (
	"fmt"
	"time"
)

// Range returns [start, end] for the week at the given offset relative to
// now: 0 is the current week, negative weeks are in the past. Weeks start on
// Sunday 00:00:00 and end on Saturday 23:59:59.999, in now's location.
func Range(offset int, now time.Time) (time.Time, time.Time) {
	loc := now.Location()

	daysBack := int(now.Weekday()) // Sunday == 0
	anchor := now.AddDate(0, 0, -daysBack+offset*7)
	start := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, loc)

	end := start.AddDate(0, 0, 6)
	end = time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, int(999*time.Millisecond), loc)

	return start, end
}

// Contains reports whether t falls within the week window [start, end].
func Contains(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

// ID returns the ledger week id in YYYY-WW form for the week containing now.
// The week number is the original ledger's day-of-year/7 ceiling with a
// Sunday-start adjustment, not ISO 8601; the ledger keys submitted batches
// by this value, so it stays bug-compatible.
func ID(now time.Time) string {
	year := now.Year()
	startOfYear := time.Date(year, time.January, 1, 0, 0, 0, 0, now.Location())

	dayOfYear := int(now.Sub(startOfYear).Hours() / 24)
	weekNumber := (dayOfYear + int(startOfYear.Weekday()) + 1 + 6) / 7

	return fmt.Sprintf("%d-%02d", year, weekNumber)
}

// IDFor returns the ledger week id for the week at the given offset.
func IDFor(offset int, now time.Time) string {
	start, _ := Range(offset, now)
	return ID(start)
}
