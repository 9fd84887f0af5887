// Package insights reports planned versus executed time and estimation bias.
package insights

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/harrisonrobin/dayblock/pkg/model"
	"github.com/harrisonrobin/dayblock/pkg/store"
	"github.com/harrisonrobin/dayblock/pkg/timeutil"
)

// Locator resolves a user's time zone.
type Locator interface {
	Location(ctx context.Context, userID string) (*time.Location, error)
}

type Engine struct {
	repo store.InsightsRepository
	loc  Locator
}

func New(repo store.InsightsRepository, loc Locator) *Engine {
	return &Engine{repo: repo, loc: loc}
}

type Minutes struct {
	Planned      int `json:"planned"`
	Confirmed    int `json:"confirmed"`
	Executed     int `json:"executed"`
	CalendarBusy int `json:"calendar_busy"`
}

type SlippedTask struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
}

type Report struct {
	// Date is the day reported on, or the Monday of the reported week.
	Date           string        `json:"date"`
	Start          time.Time     `json:"start"`
	End            time.Time     `json:"end"`
	Minutes        Minutes       `json:"minutes"`
	Slipped        []SlippedTask `json:"slipped"`
	EstimationBias float64       `json:"estimation_bias"`
}

// Daily reports on the calendar day date in the user's zone.
func (e *Engine) Daily(ctx context.Context, userID, date string) (Report, error) {
	loc, err := e.loc.Location(ctx, userID)
	if err != nil {
		return Report{}, err
	}
	window, err := timeutil.DayRange(date, loc)
	if err != nil {
		return Report{}, err
	}
	return e.report(ctx, userID, window)
}

// Weekly reports on the Monday-started week containing anchor.
func (e *Engine) Weekly(ctx context.Context, userID, anchor string) (Report, error) {
	loc, err := e.loc.Location(ctx, userID)
	if err != nil {
		return Report{}, err
	}
	window, err := timeutil.WeekRange(anchor, loc)
	if err != nil {
		return Report{}, err
	}
	return e.report(ctx, userID, window)
}

func (e *Engine) report(ctx context.Context, userID string, window timeutil.Interval) (Report, error) {
	blocks, err := e.repo.BlocksInRange(ctx, userID, window.Start, window.End)
	if err != nil {
		return Report{}, fmt.Errorf("load blocks: %w", err)
	}
	sessions, err := e.repo.SessionsInRange(ctx, userID, window.Start, window.End)
	if err != nil {
		return Report{}, fmt.Errorf("load sessions: %w", err)
	}
	busy, err := e.repo.CalendarBusyMinutes(ctx, userID, window.Start, window.End)
	if err != nil {
		return Report{}, fmt.Errorf("sum calendar busy time: %w", err)
	}

	r := Report{
		Date:    window.Start.Format(model.DateLayout),
		Start:   window.Start,
		End:     window.End,
		Slipped: []SlippedTask{},
	}
	r.Minutes.CalendarBusy = busy

	var taskIDs []string
	seen := make(map[string]bool)
	for _, b := range blocks {
		m := b.Minutes()
		r.Minutes.Planned += m
		if b.State == model.BlockConfirmed || b.State == model.BlockExecuted {
			r.Minutes.Confirmed += m
		}
		if !seen[b.TaskID] {
			seen[b.TaskID] = true
			taskIDs = append(taskIDs, b.TaskID)
		}
	}

	worked := make(map[string]int)
	for _, s := range sessions {
		if s.MinutesWorked != nil {
			r.Minutes.Executed += *s.MinutesWorked
			worked[s.TaskID] += *s.MinutesWorked
		}
	}

	tasks, err := e.repo.TasksByIDs(ctx, taskIDs)
	if err != nil {
		return Report{}, fmt.Errorf("load tasks: %w", err)
	}
	for _, t := range tasks {
		if worked[t.ID] == 0 && t.Status != model.StatusDone {
			r.Slipped = append(r.Slipped, SlippedTask{TaskID: t.ID, Title: t.Title})
		}
	}

	r.EstimationBias = EstimationBias(sessions)
	return r, nil
}

// EstimationBias is the mean of actual/estimate - 1 over completed sessions
// that recorded both, rounded to three decimals.
func EstimationBias(sessions []model.WorkSession) float64 {
	var (
		sum float64
		n   int
	)
	for _, s := range sessions {
		if s.State != model.SessionCompleted || s.MinutesWorked == nil || s.EstimateSnapshot == nil {
			continue
		}
		sum += float64(*s.MinutesWorked)/float64(max(1, *s.EstimateSnapshot)) - 1
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Round(sum/float64(n)*1000) / 1000
}
