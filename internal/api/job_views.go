package api

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// SortJobsNewestFirst returns a copy of jobs ordered by CreatedAt, newest
// first. Jobs created in the same instant are ordered by descending ID.
func SortJobsNewestFirst(jobs []Job) []Job {
	if len(jobs) == 0 {
		return nil
	}
	sorted := slices.Clone(jobs)
	slices.SortStableFunc(sorted, func(a, b Job) int {
		if c := ParseTime(b.CreatedAt).Compare(ParseTime(a.CreatedAt)); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return sorted
}

// ParseTime reads an RFC 3339 timestamp, with or without fractional
// seconds. Anything else yields the zero time.
func ParseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}
	}
	return t
}
