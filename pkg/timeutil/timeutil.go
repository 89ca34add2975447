// Package timeutil provides timezone resolution for schedules and
// human-readable time formatting for operator output.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LoadLocation resolves an IANA zone name ("Europe/Berlin"), "UTC", "Local"
// or a fixed offset such as "+05:00", "-0330" or "UTC+5".
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}

	if loc, ok := parseOffset(name); ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

func parseOffset(name string) (*time.Location, bool) {
	s := strings.TrimPrefix(strings.TrimPrefix(name, "UTC"), "GMT")
	if s == "" || (s[0] != '+' && s[0] != '-') {
		return nil, false
	}
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	s = s[1:]

	var hh, mm string
	switch {
	case strings.Contains(s, ":"):
		hh, mm, _ = strings.Cut(s, ":")
	case len(s) == 4:
		hh, mm = s[:2], s[2:]
	default:
		hh, mm = s, "0"
	}

	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 14 {
		return nil, false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return nil, false
	}

	offset := sign * (h*3600 + m*60)
	if offset == 0 {
		return time.UTC, true
	}
	return time.FixedZone(name, offset), true
}

// StartOfDay returns midnight of t's day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// FormatRelative describes t relative to now: "just now", "5m ago",
// "in 2h", "3d ago". The zero time formats as "never".
func FormatRelative(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < 0 {
		return formatFuture(-d)
	}
	return formatPast(d)
}

func formatPast(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 48*time.Hour:
		return "yesterday"
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		months := int(d.Hours() / 24 / 30)
		if months < 12 {
			return fmt.Sprintf("%dmo ago", months)
		}
		return fmt.Sprintf("%dy ago", months/12)
	}
}

func formatFuture(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("in %dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("in %dh", int(d.Hours()))
	default:
		return fmt.Sprintf("in %dd", int(d.Hours()/24))
	}
}
