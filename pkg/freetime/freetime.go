// Package freetime derives a user's open slots from calendar commitments
// and already confirmed blocks.
package freetime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/store"
	"github.com/harrisonrobin/dayblock/pkg/timeutil"
)

const DefaultTimezone = "America/Chicago"

// ErrInvalidDay reports a date, zone or workday that cannot be resolved.
var ErrInvalidDay = errors.New("invalid day")

// Repository is the slice of the store the engine reads.
type Repository interface {
	GetUserSettings(ctx context.Context, userID string) (model.UserSettings, bool, error)
	BusyIntervals(ctx context.Context, userID string, start, end time.Time) ([]model.BusyInterval, error)
	ConfirmedInWindow(ctx context.Context, userID string, start, end time.Time) ([]model.TaskBlock, error)
}

var _ Repository = (store.Store)(nil)

// Defaults fill in settings a user has not stored.
type Defaults struct {
	Timezone     string
	WorkdayStart string
	WorkdayEnd   string
}

type Engine struct {
	repo     Repository
	defaults Defaults
}

func New(repo Repository, defaults Defaults) *Engine {
	if defaults.Timezone == "" {
		defaults.Timezone = DefaultTimezone
	}
	if defaults.WorkdayStart == "" {
		defaults.WorkdayStart = timeutil.DefaultWorkdayStart
	}
	if defaults.WorkdayEnd == "" {
		defaults.WorkdayEnd = timeutil.DefaultWorkdayEnd
	}
	return &Engine{repo: repo, defaults: defaults}
}

// Day is a resolved workday.
type Day struct {
	Date     string
	Location *time.Location
	Settings model.UserSettings
	timeutil.Interval
}

// Settings returns the user's settings with defaults applied.
func (e *Engine) Settings(ctx context.Context, userID string) (model.UserSettings, error) {
	st, _, err := e.repo.GetUserSettings(ctx, userID)
	if err != nil {
		return model.UserSettings{}, fmt.Errorf("load settings for %s: %w", userID, err)
	}
	if st.Timezone == "" {
		st.Timezone = e.defaults.Timezone
	}
	if st.WorkdayStart == "" {
		st.WorkdayStart = e.defaults.WorkdayStart
	}
	if st.WorkdayEnd == "" {
		st.WorkdayEnd = e.defaults.WorkdayEnd
	}
	return st, nil
}

// Location returns the user's time zone.
func (e *Engine) Location(ctx context.Context, userID string) (*time.Location, error) {
	st, err := e.Settings(ctx, userID)
	if err != nil {
		return nil, err
	}
	return time.LoadLocation(st.Timezone)
}

// UserDay resolves the workday bounds of date for userID.
func (e *Engine) UserDay(ctx context.Context, userID, date string) (Day, error) {
	st, err := e.Settings(ctx, userID)
	if err != nil {
		return Day{}, err
	}
	bounds, err := timeutil.DayBounds(date, st.Timezone, st.WorkdayStart, st.WorkdayEnd)
	if err != nil {
		return Day{}, fmt.Errorf("%w: %v", ErrInvalidDay, err)
	}
	if !bounds.End.After(bounds.Start) {
		return Day{}, fmt.Errorf("%w: workday %s-%s is empty", ErrInvalidDay, st.WorkdayStart, st.WorkdayEnd)
	}
	return Day{Date: date, Location: bounds.Start.Location(), Settings: st, Interval: bounds}, nil
}

// FreeIntervals returns the gaps of [start, end) not covered by calendar
// events or confirmed blocks.
func (e *Engine) FreeIntervals(ctx context.Context, userID string, start, end time.Time) ([]timeutil.Interval, error) {
	busy, err := e.repo.BusyIntervals(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("load busy intervals: %w", err)
	}
	confirmed, err := e.repo.ConfirmedInWindow(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("load confirmed blocks: %w", err)
	}
	spans := make([]timeutil.Interval, 0, len(busy)+len(confirmed))
	for _, b := range busy {
		spans = append(spans, timeutil.Interval{Start: b.Start, End: b.End})
	}
	for _, b := range confirmed {
		spans = append(spans, timeutil.Interval{Start: b.Start, End: b.End})
	}
	return timeutil.FreeIntervals(start, end, spans), nil
}
