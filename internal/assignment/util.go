package assignment

import (
	"slices"
	"time"
)

func sortedStrings(in []string) []string {
	slices.Sort(in)
	return in
}

// dayBounds returns [00:00, next 00:00) of date in date's location.
func dayBounds(date time.Time) (time.Time, time.Time) {
	y, m, d := date.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, date.Location())
	return start, start.AddDate(0, 0, 1)
}
