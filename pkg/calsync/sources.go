package calsync

import (
	"context"
	"fmt"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/ics"
	"github.com/harrisonrobin/dayblock/pkg/model"
)

// Source yields busy intervals for a window.
type Source interface {
	ID() string
	Busy(ctx context.Context, start, end time.Time) ([]model.BusyInterval, error)
}

type GoogleLister interface {
	BusyIntervals(ctx context.Context, calendarID string, start, end time.Time) ([]model.BusyInterval, error)
}

// GoogleSource reads one Google calendar.
type GoogleSource struct {
	Client     GoogleLister
	CalendarID string
}

func (g GoogleSource) ID() string { return "google:" + g.CalendarID }

func (g GoogleSource) Busy(ctx context.Context, start, end time.Time) ([]model.BusyInterval, error) {
	return g.Client.BusyIntervals(ctx, g.CalendarID, start, end)
}

// ICSSource reads one subscribed ICS feed.
type ICSSource struct {
	Fetcher *ics.Fetcher
	Feed    ics.Source
}

func (s ICSSource) ID() string { return "ics:" + s.Feed.ID }

func (s ICSSource) Busy(ctx context.Context, start, end time.Time) ([]model.BusyInterval, error) {
	res, err := s.Fetcher.Fetch(ctx, s.Feed)
	if err != nil {
		return nil, err
	}
	events, _, err := ics.Parse(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.Feed.ID, err)
	}
	busy, _, err := ics.Expand(events, ics.ExpandOptions{SourceID: s.ID(), Start: start, End: end})
	return busy, err
}
