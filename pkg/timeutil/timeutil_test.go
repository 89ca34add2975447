package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = LoadLocation("UTC")
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	ref := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, want := range map[string]int{
		"+05:00":   5 * 3600,
		"UTC+5":    5 * 3600,
		"-0330":    -(3*3600 + 30*60),
		"GMT-8":    -8 * 3600,
		"+00:00":   0,
		"UTC+5:45": 5*3600 + 45*60,
	} {
		loc, err := LoadLocation(name)
		require.NoError(t, err, name)
		_, offset := ref.In(loc).Zone()
		assert.Equal(t, want, offset, name)
	}

	_, err = LoadLocation("Mars/Olympus")
	assert.Error(t, err)

	_, err = LoadLocation("+25:00")
	assert.Error(t, err)
}

func TestStartOfDay(t *testing.T) {
	loc := time.FixedZone("+05", 5*3600)
	// 22:30 UTC is already the next day at UTC+5.
	got := StartOfDay(time.Date(2026, 3, 1, 22, 30, 0, 0, time.UTC), loc)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, loc), got)
}

func TestFormatRelative(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Time{}, "never"},
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-30 * time.Hour), "yesterday"},
		{now.Add(-4 * 24 * time.Hour), "4d ago"},
		{now.Add(-65 * 24 * time.Hour), "2mo ago"},
		{now.Add(-400 * 24 * time.Hour), "1y ago"},
		{now.Add(30 * time.Second), "now"},
		{now.Add(20 * time.Minute), "in 20m"},
		{now.Add(2 * time.Hour), "in 2h"},
		{now.Add(72 * time.Hour), "in 3d"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatRelative(tt.at, now), tt.at.String())
	}
}
