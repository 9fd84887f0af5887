package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
)

// Event is a VEVENT reduced to what busy-time import needs.
type Event struct {
	UID     string
	Summary string
	Start   time.Time
	End     time.Time
	AllDay  bool
	// Transparent events (TRANSP:TRANSPARENT) do not block time.
	Transparent bool
	Cancelled   bool

	RRule      string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID of an overridden instance
}

// Parse decodes an ICS payload. Malformed VEVENTs are skipped and counted.
func Parse(body []byte) ([]Event, int, error) {
	if len(body) == 0 {
		return nil, 0, errors.New("empty ICS body")
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	var (
		out     []Event
		skipped int
	)
	for _, ve := range cal.Events() {
		ev, err := parseEvent(ve)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, ev)
	}
	return out, skipped, nil
}

func parseEvent(ve *ical.VEvent) (Event, error) {
	var ev Event
	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return ev, errors.New("missing UID")
	}
	ev.UID = uid.Value
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Summary = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return ev, err
	}
	ev.Start = start
	if end, err := ve.GetEndAt(); err == nil {
		ev.End = end
	} else {
		ev.End = start
	}

	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if v, ok := p.ICalParameters["VALUE"]; ok && len(v) > 0 && strings.EqualFold(v[0], "DATE") {
			ev.AllDay = true
		}
		if !strings.Contains(p.Value, "T") {
			ev.AllDay = true
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyTransp); p != nil {
		ev.Transparent = strings.EqualFold(strings.TrimSpace(p.Value), "TRANSPARENT")
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		ev.Cancelled = strings.EqualFold(strings.TrimSpace(p.Value), "CANCELLED")
	}
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.RRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := tzidLocation(p, ev.Start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, loc); err == nil {
				ev.ExDates = append(ev.ExDates, t)
			}
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyRecurrenceId); p != nil {
		if t, err := parseICSTime(p.Value, tzidLocation(p, ev.Start.Location())); err == nil {
			ev.Recurrence = &t
		}
	}
	return ev, nil
}

func tzidLocation(p *ical.IANAProperty, def *time.Location) *time.Location {
	if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) > 0 {
		if loc, err := time.LoadLocation(tz[0]); err == nil {
			return loc
		}
	}
	return def
}

func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
