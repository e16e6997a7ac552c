// Package timeutil parses source timestamps and formats durations.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// QueryLayout is the UTC layout used for time bounds in query parameters.
const QueryLayout = "2006-01-02T15:04:05Z"

// zoneless layouts are interpreted as UTC.
var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Parse reads an ISO-8601 timestamp as returned by the source APIs and
// normalizes it to UTC. Empty input, and the "0001-01-01T00:00:00" placeholder
// Azure DevOps uses for unset dates, yield ok == false.
func Parse(s string) (t time.Time, ok bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, nil
	}

	t, err = time.Parse(time.RFC3339Nano, s)
	if err != nil {
		var zerr error
		for _, layout := range zonelessLayouts {
			t, zerr = time.ParseInLocation(layout, s, time.UTC)
			if zerr == nil {
				err = nil
				break
			}
		}
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}

	if t.Year() <= 1 {
		return time.Time{}, false, nil
	}
	return t.UTC(), true, nil
}

// FormatQuery renders t for a query parameter.
func FormatQuery(t time.Time) string {
	return t.UTC().Format(QueryLayout)
}

// Between returns to - from. It reports false when to is earlier than from.
func Between(from, to time.Time) (time.Duration, bool) {
	d := to.Sub(from)
	if d < 0 {
		return 0, false
	}
	return d, true
}

// Clock renders d as HH:MM:SS, rounded to the second. Hours are not capped at 24.
// A nil duration renders as "n/a".
func Clock(d *time.Duration) string {
	if d == nil {
		return "n/a"
	}
	total := int64(d.Round(time.Second) / time.Second)
	sign := ""
	if total < 0 {
		sign = "-"
		total = -total
	}
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, total/3600, (total%3600)/60, total%60)
}

// Humanize renders d in the largest sensible units, e.g. "3h 20m" or "2d 4h".
func Humanize(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}

	days := int(d.Hours()) / 24
	if days < 30 {
		return fmt.Sprintf("%dd %dh", days, int(d.Hours())%24)
	}

	months := days / 30
	if months < 12 {
		return fmt.Sprintf("%dmo %dd", months, days%30)
	}
	return fmt.Sprintf("%dy %dmo", days/365, (days%365)/30)
}
