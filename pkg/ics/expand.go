package ics

import (
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/harrisonrobin/dayblock/pkg/model"
)

const defaultMaxOccurrences = 5000

// ExpandOptions bounds recurrence expansion.
type ExpandOptions struct {
	SourceID       string
	Start, End     time.Time
	MaxOccurrences int
}

// Expand turns parsed events into busy intervals overlapping [Start, End).
// All-day, transparent and cancelled events never block time. Overridden
// instances (RECURRENCE-ID) replace the occurrence they name.
//
// Recurring occurrences get the external id "<uid>@<RFC3339 UTC start>" so
// moving one instance reports only that instance as changed.
func Expand(events []Event, opts ExpandOptions) ([]model.BusyInterval, []string, error) {
	if opts.End.Before(opts.Start) {
		return nil, nil, fmt.Errorf("expand: end %v before start %v", opts.End, opts.Start)
	}
	if opts.MaxOccurrences <= 0 {
		opts.MaxOccurrences = defaultMaxOccurrences
	}

	overridden := map[string]bool{}
	for _, ev := range events {
		if ev.Recurrence != nil {
			overridden[occurrenceKey(ev.UID, *ev.Recurrence)] = true
		}
	}

	var (
		out       []model.BusyInterval
		truncated []string
	)
	emit := func(ev Event, id string, start, end time.Time) {
		if ev.AllDay || ev.Transparent || ev.Cancelled {
			return
		}
		if !end.After(opts.Start) || !start.Before(opts.End) {
			return
		}
		out = append(out, model.BusyInterval{
			ExternalID: id,
			SourceID:   opts.SourceID,
			Summary:    ev.Summary,
			Start:      start,
			End:        end,
		})
	}

	for _, ev := range events {
		switch {
		case ev.Recurrence != nil:
			emit(ev, occurrenceKey(ev.UID, *ev.Recurrence), ev.Start, ev.End)
		case ev.RRule == "":
			emit(ev, ev.UID, ev.Start, ev.End)
		default:
			times, err := occurrences(ev, opts)
			if err != nil {
				return nil, nil, fmt.Errorf("expand %s: %w", ev.UID, err)
			}
			if len(times) > opts.MaxOccurrences {
				times = times[:opts.MaxOccurrences]
				truncated = append(truncated, ev.UID)
			}
			dur := ev.End.Sub(ev.Start)
			for _, t := range times {
				key := occurrenceKey(ev.UID, t)
				if overridden[key] {
					continue
				}
				emit(ev, key, t, t.Add(dur))
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, truncated, nil
}

func occurrences(ev Event, opts ExpandOptions) ([]time.Time, error) {
	r, err := rrule.StrToRRule(ev.RRule)
	if err != nil {
		return nil, err
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}
	// Widen the lower bound by one duration so occurrences that started
	// before the window but still run into it are kept.
	loc := ev.Start.Location()
	from := opts.Start.Add(-ev.End.Sub(ev.Start)).In(loc)
	return set.Between(from, opts.End.In(loc), true), nil
}

func occurrenceKey(uid string, start time.Time) string {
	return uid + "@" + start.UTC().Format(time.RFC3339)
}
