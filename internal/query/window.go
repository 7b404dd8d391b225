package query

import (
	"fmt"
	"strings"
	"time"
)

// Named time windows accepted by the time_range filter
const (
	WindowToday       = "today"
	WindowYesterday   = "yesterday"
	WindowLast24h     = "last_24h"
	WindowLastWeek    = "last_week"
	WindowLastMonth   = "last_month"
	WindowLastQuarter = "last_quarter"
	WindowLastYear    = "last_year"
	WindowThisWeek    = "this_week"
	WindowThisMonth   = "this_month"
	WindowThisYear    = "this_year"
)

const day = 24 * time.Hour

var trailingWindows = map[string]time.Duration{
	WindowLast24h:     day,
	WindowLastWeek:    7 * day,
	WindowLastMonth:   30 * day,
	WindowLastQuarter: 90 * day,
	WindowLastYear:    365 * day,
}

// TimeBounds is a half-open interval [From, To); a nil bound is unbounded
type TimeBounds struct {
	From *time.Time
	To   *time.Time
}

// ResolveWindow computes the bounds of a named window relative to now
func ResolveWindow(name string, now time.Time) (TimeBounds, error) {
	now = now.UTC()
	name = strings.ToLower(strings.TrimSpace(name))

	if d, ok := trailingWindows[name]; ok {
		from := now.Add(-d)
		return TimeBounds{From: &from}, nil
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	switch name {
	case WindowToday:
		to := midnight.Add(day)
		return TimeBounds{From: &midnight, To: &to}, nil
	case WindowYesterday:
		from := midnight.Add(-day)
		return TimeBounds{From: &from, To: &midnight}, nil
	case WindowThisWeek:
		// weeks start on Monday
		offset := (int(midnight.Weekday()) + 6) % 7
		from := midnight.AddDate(0, 0, -offset)

		return TimeBounds{From: &from}, nil
	case WindowThisMonth:
		from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return TimeBounds{From: &from}, nil
	case WindowThisYear:
		from := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		return TimeBounds{From: &from}, nil
	}

	return TimeBounds{}, fmt.Errorf("unknown time window %q", name)
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// parseTime accepts time.Time values and the common textual layouts
func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case *time.Time:
		if t != nil {
			return t.UTC(), nil
		}
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				return parsed.UTC(), nil
			}
		}

		return time.Time{}, fmt.Errorf("unrecognized time %q", t)
	}

	return time.Time{}, fmt.Errorf("unsupported time value %T", v)
}

// explicitBounds builds bounds from optional from/to operands
func explicitBounds(from, to any) (TimeBounds, error) {
	var b TimeBounds

	if from != nil {
		t, err := parseTime(from)
		if err != nil {
			return b, err
		}

		b.From = &t
	}

	if to != nil {
		t, err := parseTime(to)
		if err != nil {
			return b, err
		}

		b.To = &t
	}

	if b.From != nil && b.To != nil && !b.From.Before(*b.To) {
		return b, fmt.Errorf("time range is empty")
	}

	return b, nil
}
