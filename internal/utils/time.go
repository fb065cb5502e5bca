package utils

import (
	"fmt"
	"strings"
	"time"
)

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

const dateOnlyLayout = "2006-01-02"

// ParseDate accepts RFC3339, the local datetime forms sent by HTML date inputs
// (read as UTC) and bare YYYY-MM-DD dates. dateOnly reports the last case.
func ParseDate(value string) (t time.Time, dateOnly bool, err error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), false, nil
		}
	}
	if t, err := time.Parse(dateOnlyLayout, value); err == nil {
		return t.UTC(), true, nil
	}
	return time.Time{}, false, fmt.Errorf("unrecognised date %q", value)
}

// EndOfDay returns the last instant of t's UTC day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
}
