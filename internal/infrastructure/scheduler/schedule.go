package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// INTERVAL SCHEDULE
// ══════════════════════════════════════════════════════════════════════════════

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval)
}

// ══════════════════════════════════════════════════════════════════════════════
// CRON SCHEDULE
// ══════════════════════════════════════════════════════════════════════════════

// CronSchedule is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
//
// Each field accepts *, n, n-m, */s, n-m/s and comma-separated lists of those.
// When both day fields are restricted a day matches if either matches.
type CronSchedule struct {
	raw     string
	minute  uint64
	hour    uint64
	dom     uint64
	month   uint64
	dow     uint64
	domStar bool
	dowStar bool
}

type cronField struct {
	name     string
	min, max int
}

var cronFields = [5]cronField{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Common cron expressions.
const (
	EveryMinute      = "* * * * *"
	Every5Minutes    = "*/5 * * * *"
	Every10Minutes   = "*/10 * * * *"
	EveryHour        = "0 * * * *"
	EveryDayMidnight = "0 0 * * *"
)

// ParseCron parses a cron expression.
func ParseCron(expr string) (*CronSchedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != len(cronFields) {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(parts))
	}

	var masks [5]uint64
	for i, part := range parts {
		mask, err := parseCronField(part, cronFields[i])
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
		}
		masks[i] = mask
	}

	return &CronSchedule{
		raw:     expr,
		minute:  masks[0],
		hour:    masks[1],
		dom:     masks[2],
		month:   masks[3],
		dow:     masks[4],
		domStar: parts[2] == "*",
		dowStar: parts[4] == "*",
	}, nil
}

// MustParseCron parses a cron expression or panics.
func MustParseCron(expr string) *CronSchedule {
	s, err := ParseCron(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func parseCronField(field string, f cronField) (uint64, error) {
	var mask uint64
	for _, item := range strings.Split(field, ",") {
		lo, hi, step := f.min, f.max, 1

		rng := item
		if i := strings.IndexByte(item, '/'); i >= 0 {
			s, err := strconv.Atoi(item[i+1:])
			if err != nil || s <= 0 {
				return 0, fmt.Errorf("%s: invalid step %q", f.name, item)
			}
			step = s
			rng = item[:i]
		}

		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			bounds := strings.SplitN(rng, "-", 2)
			a, errA := strconv.Atoi(bounds[0])
			b, errB := strconv.Atoi(bounds[1])
			if errA != nil || errB != nil || a > b {
				return 0, fmt.Errorf("%s: invalid range %q", f.name, rng)
			}
			lo, hi = a, b
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return 0, fmt.Errorf("%s: invalid value %q", f.name, rng)
			}
			lo = v
			if step == 1 {
				hi = v
			}
		}

		if lo < f.min || hi > f.max {
			return 0, fmt.Errorf("%s: %q out of range [%d-%d]", f.name, item, f.min, f.max)
		}
		for v := lo; v <= hi; v += step {
			mask |= 1 << uint(v)
		}
	}
	return mask, nil
}

func has(mask uint64, v int) bool {
	return mask&(1<<uint(v)) != 0
}

func (s *CronSchedule) dayMatches(t time.Time) bool {
	dom := has(s.dom, t.Day())
	dow := has(s.dow, int(t.Weekday()))
	if s.domStar || s.dowStar {
		return dom && dow
	}
	return dom || dow
}

// Next returns the first matching minute strictly after t, or the zero
// time if nothing matches within five years.
func (s *CronSchedule) Next(t time.Time) time.Time {
	loc := t.Location()
	t = t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(5, 0, 0)

	for t.Before(limit) {
		if !has(s.month, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !s.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !has(s.hour, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if !has(s.minute, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

// String returns the original expression.
func (s *CronSchedule) String() string {
	return s.raw
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG HELPER
// ══════════════════════════════════════════════════════════════════════════════

// ScheduleFor returns a cron schedule when expr is set and an interval
// schedule otherwise.
func ScheduleFor(expr string, interval time.Duration) (Schedule, error) {
	if strings.TrimSpace(expr) != "" {
		cron, err := ParseCron(expr)
		if err != nil {
			return nil, err
		}
		return cron, nil
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	return NewIntervalSchedule(interval), nil
}
