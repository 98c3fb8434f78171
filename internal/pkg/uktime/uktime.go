// Package uktime centralises Europe/London handling. All timestamps from the
// Octopus API are UTC; calendar bucketing and the publication-window logic
// operate on UK local time, which tracks GMT/BST automatically.
package uktime

import (
	"time"
)

// Location is the UK timezone. Loaded once at init; Europe/London is present
// in the embedded tzdata on every supported platform.
var Location = mustLoad()

func mustLoad() *time.Location {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		panic(err)
	}
	return loc
}

// Now returns the current time in the UK timezone.
func Now() time.Time {
	return time.Now().In(Location)
}

// ToUK converts any instant to UK local time.
func ToUK(t time.Time) time.Time {
	return t.In(Location)
}

// DateOf returns the UK-local calendar date of t, as a date-only time.Time
// at midnight UK local.
func DateOf(t time.Time) time.Time {
	uk := t.In(Location)
	return time.Date(uk.Year(), uk.Month(), uk.Day(), 0, 0, 0, 0, Location)
}

// DateString returns the UK-local calendar date of t as YYYY-MM-DD.
func DateString(t time.Time) string {
	return t.In(Location).Format("2006-01-02")
}

// StartOfDay returns midnight UK local time on the UK date containing t.
func StartOfDay(t time.Time) time.Time {
	return DateOf(t)
}

// EndOfDayExclusiveUTC returns the UTC instant at the start of the next
// UK-local day after dayUK, suitable as an exclusive period_to boundary.
func EndOfDayExclusiveUTC(dayUK time.Time) time.Time {
	uk := dayUK.In(Location)
	next := time.Date(uk.Year(), uk.Month(), uk.Day()+1, 0, 0, 0, 0, Location)
	return next.UTC()
}

// At returns the given UK-local clock time on the UK date containing day.
func At(day time.Time, hour, minute int) time.Time {
	uk := day.In(Location)
	return time.Date(uk.Year(), uk.Month(), uk.Day(), hour, minute, 0, 0, Location)
}

// SameUKDate reports whether a and b fall on the same UK calendar date.
func SameUKDate(a, b time.Time) bool {
	return DateString(a) == DateString(b)
}
