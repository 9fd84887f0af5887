package timeutil

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/model"
)

const (
	DefaultWorkdayStart = "09:00"
	DefaultWorkdayEnd   = "17:00"
)

// Interval is a half-open span [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Duration returns the length of the interval, zero for inverted intervals.
func (iv Interval) Duration() time.Duration {
	if !iv.End.After(iv.Start) {
		return 0
	}
	return iv.End.Sub(iv.Start)
}

// Empty reports whether the interval covers no time.
func (iv Interval) Empty() bool { return !iv.End.After(iv.Start) }

// Overlaps reports whether both intervals share a positive span.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start.Before(o.End) && o.Start.Before(iv.End)
}

// Clip intersects iv with window. The result may be Empty.
func (iv Interval) Clip(window Interval) Interval {
	out := iv
	if out.Start.Before(window.Start) {
		out.Start = window.Start
	}
	if out.End.After(window.End) {
		out.End = window.End
	}
	return out
}

func (iv Interval) String() string {
	return iv.Start.Format(time.RFC3339) + "/" + iv.End.Format(time.RFC3339)
}

// FreeIntervals returns the ordered, disjoint gaps of [start, end) that are
// not covered by any busy interval. Busy intervals need not be sorted or
// disjoint.
func FreeIntervals(start, end time.Time, busy []Interval) []Interval {
	window := Interval{Start: start, End: end}
	clipped := make([]Interval, 0, len(busy))
	for _, b := range busy {
		c := b.Clip(window)
		if c.Empty() {
			continue
		}
		clipped = append(clipped, c)
	}
	sort.SliceStable(clipped, func(i, j int) bool {
		return clipped[i].Start.Before(clipped[j].Start)
	})

	var out []Interval
	cursor := start
	for _, b := range clipped {
		if b.Start.After(cursor) {
			out = append(out, Interval{Start: cursor, End: b.Start})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
		if !cursor.Before(end) {
			break
		}
	}
	if cursor.Before(end) {
		out = append(out, Interval{Start: cursor, End: end})
	}
	return out
}

// DayBounds resolves the workday of date (YYYY-MM-DD) in the named zone.
// Empty workStart/workEnd fall back to 09:00 and 17:00.
func DayBounds(date, tz, workStart, workEnd string) (Interval, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Interval{}, fmt.Errorf("unknown timezone %q: %w", tz, err)
	}
	day, err := time.ParseInLocation(model.DateLayout, date, loc)
	if err != nil {
		return Interval{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	if strings.TrimSpace(workStart) == "" {
		workStart = DefaultWorkdayStart
	}
	if strings.TrimSpace(workEnd) == "" {
		workEnd = DefaultWorkdayEnd
	}
	sh, sm, err := ParseClock(workStart)
	if err != nil {
		return Interval{}, err
	}
	eh, em, err := ParseClock(workEnd)
	if err != nil {
		return Interval{}, err
	}
	y, m, d := day.Date()
	return Interval{
		Start: time.Date(y, m, d, sh, sm, 0, 0, loc),
		End:   time.Date(y, m, d, eh, em, 0, 0, loc),
	}, nil
}

// DayRange returns [midnight, next midnight) of date in loc.
func DayRange(date string, loc *time.Location) (Interval, error) {
	day, err := time.ParseInLocation(model.DateLayout, date, loc)
	if err != nil {
		return Interval{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return Interval{Start: day, End: day.AddDate(0, 0, 1)}, nil
}

// WeekRange returns the Monday-started week containing date in loc.
func WeekRange(date string, loc *time.Location) (Interval, error) {
	day, err := time.ParseInLocation(model.DateLayout, date, loc)
	if err != nil {
		return Interval{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	offset := (int(day.Weekday()) + 6) % 7
	start := day.AddDate(0, 0, -offset)
	return Interval{Start: start, End: start.AddDate(0, 0, 7)}, nil
}

// ParseClock parses an HH:MM wall clock string.
func ParseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 24 {
		return 0, 0, fmt.Errorf("invalid clock %q: bad hour", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid clock %q: bad minute", s)
	}
	return hour, minute, nil
}

// CivilDaysBetween returns the number of calendar days from a to b, using
// each instant's own wall-clock date.
func CivilDaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
